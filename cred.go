package kvfs

// Cred identifies the caller of a filesystem operation.
type Cred struct {
	UID  uint32
	GID  uint32
	SUID uint32
	SGID uint32
	EUID uint32
	EGID uint32
}

// RootCred has every access check succeed.
var RootCred = Cred{}

// NewCred returns a credential whose real, saved and effective ids are all uid/gid.
func NewCred(uid, gid uint32) Cred {
	return Cred{UID: uid, GID: gid, SUID: uid, SGID: gid, EUID: uid, EGID: gid}
}

// IsRoot reports whether access checks are bypassed for this credential.
func (c Cred) IsRoot() bool {
	return c.EUID == 0 || c.EGID == 0
}
