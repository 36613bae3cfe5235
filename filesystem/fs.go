package filesystem

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/brettbedarf/kvfs"
	"github.com/brettbedarf/kvfs/config"
	"github.com/brettbedarf/kvfs/internal/util"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// emptyDirListing is the data blob of a directory with no entries.
var emptyDirListing = []byte("{}")

// FileSystem maps hierarchical paths onto inodes held in a [kvfs.Store].
// Every operation runs inside exactly one store transaction; a failing step
// aborts the transaction before the error is returned.
//
// FileSystem does no locking of its own. Callers serving concurrent requests
// must serialize calls into it.
type FileSystem struct {
	cfg   *config.Config
	store kvfs.Store
	clock clock.Clock
	newID func() string
}

// Option customizes a FileSystem at construction.
type Option func(*FileSystem)

// WithClock sets the clock used for node timestamps.
func WithClock(c clock.Clock) Option {
	return func(fs *FileSystem) { fs.clock = c }
}

// WithIDGenerator sets the function producing candidate store keys for new nodes.
func WithIDGenerator(fn func() string) Option {
	return func(fs *FileSystem) { fs.newID = fn }
}

// NewFS returns a filesystem over store, creating the root directory if the
// store does not hold one yet.
func NewFS(cfg *config.Config, store kvfs.Store, opts ...Option) (*FileSystem, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	fs := &FileSystem{
		cfg:   cfg,
		store: store,
		clock: clock.New(),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(fs)
	}
	if err := fs.makeRootDirectory(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Store returns the backing store.
func (fs *FileSystem) Store() kvfs.Store {
	return fs.store
}

func (fs *FileSystem) Metadata() kvfs.Metadata {
	name := fs.cfg.Name
	if name == "" {
		name = fs.store.Name()
	}
	return kvfs.Metadata{
		Name:               name,
		Readonly:           false,
		SupportsLinks:      false,
		SupportsProperties: fs.cfg.SupportsProperties,
		Synchronous:        true,
	}
}

// Empty deletes everything in the store and re-creates an empty root.
func (fs *FileSystem) Empty() error {
	logger := util.GetLogger("FS.Empty")
	if err := fs.store.Clear(); err != nil {
		return kvfs.ErrIO("empty", "/", err)
	}
	logger.Debug().Str("store", fs.store.Name()).Msg("Store cleared")
	return fs.makeRootDirectory()
}

// Stat returns the metadata of the node at p. The caller needs read access to it.
func (fs *FileSystem) Stat(p string, cred kvfs.Cred) (*Stats, error) {
	p, err := cleanPath("stat", p)
	if err != nil {
		return nil, err
	}
	var stats *Stats
	err = fs.view(func(tx kvfs.Transaction) error {
		node, err := fs.findINodeAndGet(tx, p)
		if err != nil {
			return err
		}
		stats = node.ToStats()
		if !stats.HasAccess(R_OK, cred) {
			return kvfs.ErrAccess("stat", p)
		}
		return nil
	})
	return stats, err
}

// Exists reports whether p resolves to a node.
func (fs *FileSystem) Exists(p string) bool {
	_, err := fs.lookupStats("exists", p)
	return err == nil
}

// Open opens p according to flag: missing paths are created or rejected and
// existing ones rejected, truncated or opened as is. mode is used for newly
// created files only.
func (fs *FileSystem) Open(p string, flag *FileFlag, mode uint32, cred kvfs.Cred) (*File, error) {
	logger := util.GetLogger("FS.Open")
	logger.Trace().Str("path", p).Str("flag", flag.String()).Msg("Open called")

	p, err := cleanPath("open", p)
	if err != nil {
		return nil, err
	}
	stats, err := fs.lookupStats("open", p)
	if err != nil {
		if !errors.Is(err, syscall.ENOENT) {
			return nil, err
		}
		if flag.PathNotExistsAction() != ActionCreate {
			return nil, kvfs.ErrNotFound("open", p)
		}
		dir := path.Dir(p)
		parent, err := fs.lookupStats("open", dir)
		if err != nil {
			return nil, err
		}
		if !parent.IsDirectory() {
			return nil, kvfs.ErrNotDir("open", dir)
		}
		return fs.CreateFile(p, flag, mode, cred)
	}

	if stats.IsDirectory() {
		return nil, kvfs.ErrIsDir("open", p)
	}
	switch flag.PathExistsAction() {
	case ActionThrow:
		return nil, kvfs.ErrExists("open", p)
	case ActionTruncate:
		f, err := fs.OpenFile(p, flag, cred)
		if err != nil {
			return nil, err
		}
		if err := f.Truncate(0); err != nil {
			return nil, err
		}
		if err := f.Sync(); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return fs.OpenFile(p, flag, cred)
	}
}

// OpenFile opens an existing file and loads its contents into a new handle.
func (fs *FileSystem) OpenFile(p string, flag *FileFlag, cred kvfs.Cred) (*File, error) {
	return fs.openFile("open", p, flag, flag.AccessMode(), cred)
}

// openFile loads the node at p into a handle after checking access against cred.
func (fs *FileSystem) openFile(op, p string, flag *FileFlag, access AccessMode, cred kvfs.Cred) (*File, error) {
	p, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}
	var (
		stats *Stats
		data  []byte
	)
	err = fs.view(func(tx kvfs.Transaction) error {
		node, err := fs.findINodeAndGet(tx, p)
		if err != nil {
			return err
		}
		stats = node.ToStats()
		if !stats.HasAccess(access, cred) {
			return kvfs.ErrAccess(op, p)
		}
		var found bool
		data, found, err = tx.Get(node.ID)
		if err != nil {
			return kvfs.ErrIO(op, p, err)
		}
		if !found {
			return kvfs.ErrNotFound(op, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs.newFile(p, flag, stats, data), nil
}

// CreateFile creates an empty file at p and returns an open handle to it.
func (fs *FileSystem) CreateFile(p string, flag *FileFlag, mode uint32, cred kvfs.Cred) (*File, error) {
	p, err := cleanPath("create", p)
	if err != nil {
		return nil, err
	}
	node, err := fs.commitNewFile("create", p, S_IFREG, mode, cred, []byte{})
	if err != nil {
		return nil, err
	}
	return fs.newFile(p, flag, node.ToStats(), []byte{}), nil
}

// Mkdir creates an empty directory at p.
func (fs *FileSystem) Mkdir(p string, mode uint32, cred kvfs.Cred) error {
	p, err := cleanPath("mkdir", p)
	if err != nil {
		return err
	}
	_, err = fs.commitNewFile("mkdir", p, S_IFDIR, mode, cred, emptyDirListing)
	return err
}

// Readdir returns the sorted entry names of the directory at p.
func (fs *FileSystem) Readdir(p string, cred kvfs.Cred) ([]string, error) {
	p, err := cleanPath("readdir", p)
	if err != nil {
		return nil, err
	}
	var names []string
	err = fs.view(func(tx kvfs.Transaction) error {
		node, err := fs.findINodeAndGet(tx, p)
		if err != nil {
			return err
		}
		if !node.ToStats().HasAccess(R_OK, cred) {
			return kvfs.ErrAccess("readdir", p)
		}
		listing, err := fs.getDirListing(tx, p, node)
		if err != nil {
			return err
		}
		names = slices.Sorted(maps.Keys(listing))
		return nil
	})
	return names, err
}

// Unlink removes the file at p.
func (fs *FileSystem) Unlink(p string, cred kvfs.Cred) error {
	p, err := cleanPath("unlink", p)
	if err != nil {
		return err
	}
	return fs.removeEntry("unlink", p, false, cred)
}

// Rmdir removes the empty directory at p.
func (fs *FileSystem) Rmdir(p string, cred kvfs.Cred) error {
	p, err := cleanPath("rmdir", p)
	if err != nil {
		return err
	}
	names, err := fs.Readdir(p, cred)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return kvfs.ErrNotEmpty("rmdir", p)
	}
	return fs.removeEntry("rmdir", p, true, cred)
}

// Rename moves oldPath to newPath. An existing file at newPath is replaced;
// an existing directory is not.
func (fs *FileSystem) Rename(oldPath, newPath string, cred kvfs.Cred) error {
	logger := util.GetLogger("FS.Rename")
	logger.Trace().Str("old", oldPath).Str("new", newPath).Msg("Rename called")

	oldPath, err := cleanPath("rename", oldPath)
	if err != nil {
		return err
	}
	newPath, err = cleanPath("rename", newPath)
	if err != nil {
		return err
	}
	if oldPath == "/" || newPath == "/" {
		return kvfs.ErrBusy("rename", "/")
	}

	oldParent, oldName := path.Split(oldPath)
	newParent, newName := path.Split(newPath)
	oldParent, newParent = path.Clean(oldParent), path.Clean(newParent)

	return fs.update("rename", oldPath, func(tx kvfs.Transaction) error {
		oldDirNode, err := fs.findINodeAndGet(tx, oldParent)
		if err != nil {
			return err
		}
		oldDirList, err := fs.getDirListing(tx, oldParent, oldDirNode)
		if err != nil {
			return err
		}
		if !oldDirNode.ToStats().HasAccess(W_OK, cred) {
			return kvfs.ErrAccess("rename", oldPath)
		}
		nodeID, ok := oldDirList[oldName]
		if !ok {
			return kvfs.ErrNotFound("rename", oldPath)
		}
		delete(oldDirList, oldName)

		// trailing separators keep /ab from looking like it is inside /a
		if strings.HasPrefix(newParent+"/", oldPath+"/") {
			return kvfs.ErrBusy("rename", oldParent)
		}

		newDirNode, newDirList := oldDirNode, oldDirList
		if newParent != oldParent {
			newDirNode, err = fs.findINodeAndGet(tx, newParent)
			if err != nil {
				return err
			}
			newDirList, err = fs.getDirListing(tx, newParent, newDirNode)
			if err != nil {
				return err
			}
			if !newDirNode.ToStats().HasAccess(W_OK, cred) {
				return kvfs.ErrAccess("rename", newPath)
			}
		}

		if existingID, ok := newDirList[newName]; ok {
			existing, err := fs.getINode(tx, newPath, existingID)
			if err != nil {
				return err
			}
			if !existing.IsFile() {
				return kvfs.ErrNotPermitted("rename", newPath, "target is a directory")
			}
			if err := tx.Remove(existing.ID); err != nil {
				return kvfs.ErrIO("rename", newPath, err)
			}
			if err := tx.Remove(existingID); err != nil {
				return kvfs.ErrIO("rename", newPath, err)
			}
		}
		newDirList[newName] = nodeID

		if err := fs.putDirListing(tx, oldParent, oldDirNode, oldDirList); err != nil {
			return err
		}
		if newDirNode != oldDirNode {
			return fs.putDirListing(tx, newParent, newDirNode, newDirList)
		}
		return nil
	})
}

// Sync writes data as the contents of p and persists stats if they differ
// from the stored inode.
func (fs *FileSystem) Sync(p string, data []byte, stats *Stats) error {
	p, err := cleanPath("sync", p)
	if err != nil {
		return err
	}
	return fs.update("sync", p, func(tx kvfs.Transaction) error {
		inodeID, err := fs.findINode(tx, p)
		if err != nil {
			return err
		}
		node, err := fs.getINode(tx, p, inodeID)
		if err != nil {
			return err
		}
		changed := node.Update(stats)
		if _, err := tx.Put(node.ID, data, true); err != nil {
			return kvfs.ErrIO("sync", p, err)
		}
		if changed {
			return fs.putINode(tx, p, inodeID, node)
		}
		return nil
	})
}

// lookupStats resolves p without any access check.
func (fs *FileSystem) lookupStats(op, p string) (*Stats, error) {
	p, err := cleanPath(op, p)
	if err != nil {
		return nil, err
	}
	var stats *Stats
	err = fs.view(func(tx kvfs.Transaction) error {
		node, err := fs.findINodeAndGet(tx, p)
		if err != nil {
			return err
		}
		stats = node.ToStats()
		return nil
	})
	return stats, err
}

func (fs *FileSystem) makeRootDirectory() error {
	logger := util.GetLogger("FS.makeRootDirectory")
	return fs.update("mkroot", "/", func(tx kvfs.Transaction) error {
		_, found, err := tx.Get(RootID)
		if err != nil {
			return kvfs.ErrIO("mkroot", "/", err)
		}
		if found {
			return nil
		}
		dataID, err := fs.addNewNode(tx, "/", emptyDirListing)
		if err != nil {
			return err
		}
		root := NewInode(dataID, dirBlockSize, S_IFDIR|(fs.cfg.RootMode&^S_IFMT), fs.now(), 0, 0)
		buf, err := root.Serialize()
		if err != nil {
			return kvfs.ErrIO("mkroot", "/", err)
		}
		ok, err := tx.Put(RootID, buf, false)
		if err != nil {
			return kvfs.ErrIO("mkroot", "/", err)
		}
		if !ok {
			return kvfs.ErrIO("mkroot", "/", errors.New("root inode appeared during creation"))
		}
		logger.Debug().Str("store", fs.store.Name()).Msg("Created root directory")
		return nil
	})
}

// commitNewFile creates a node of the given type under its parent directory
// and returns its inode.
func (fs *FileSystem) commitNewFile(op, p string, typ, mode uint32, cred kvfs.Cred, data []byte) (*Inode, error) {
	logger := util.GetLogger("FS.commitNewFile")

	if p == "/" {
		return nil, kvfs.ErrExists(op, p)
	}
	parentDir, name := path.Split(p)
	parentDir = path.Clean(parentDir)

	var node *Inode
	err := fs.update(op, p, func(tx kvfs.Transaction) error {
		parent, err := fs.findINodeAndGet(tx, parentDir)
		if err != nil {
			return err
		}
		listing, err := fs.getDirListing(tx, parentDir, parent)
		if err != nil {
			return err
		}
		if !parent.ToStats().HasAccess(W_OK, cred) {
			return kvfs.ErrAccess(op, p)
		}
		if _, ok := listing[name]; ok {
			return kvfs.ErrExists(op, p)
		}

		dataID, err := fs.addNewNode(tx, p, data)
		if err != nil {
			return err
		}
		node = NewInode(dataID, uint64(len(data)), typ|(mode&^S_IFMT), fs.now(), cred.UID, cred.GID)
		buf, err := node.Serialize()
		if err != nil {
			return kvfs.ErrIO(op, p, err)
		}
		inodeID, err := fs.addNewNode(tx, p, buf)
		if err != nil {
			return err
		}
		listing[name] = inodeID
		return fs.putDirListing(tx, parentDir, parent, listing)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("path", p).Str("id", node.ID).Msg("Created node")
	return node, nil
}

// removeEntry unlinks p from its parent and deletes its inode and data.
// isDir states what kind of node the caller expects to remove.
func (fs *FileSystem) removeEntry(op, p string, isDir bool, cred kvfs.Cred) error {
	if p == "/" {
		return kvfs.ErrNotPermitted(op, p, "cannot remove the root directory")
	}
	parentDir, name := path.Split(p)
	parentDir = path.Clean(parentDir)

	return fs.update(op, p, func(tx kvfs.Transaction) error {
		parent, err := fs.findINodeAndGet(tx, parentDir)
		if err != nil {
			return err
		}
		listing, err := fs.getDirListing(tx, parentDir, parent)
		if err != nil {
			return err
		}
		if !parent.ToStats().HasAccess(W_OK, cred) {
			return kvfs.ErrAccess(op, p)
		}
		inodeID, ok := listing[name]
		if !ok {
			return kvfs.ErrNotFound(op, p)
		}
		delete(listing, name)

		node, err := fs.getINode(tx, p, inodeID)
		if err != nil {
			return err
		}
		if !isDir && node.IsDirectory() {
			return kvfs.ErrIsDir(op, p)
		}
		if isDir && !node.IsDirectory() {
			return kvfs.ErrNotDir(op, p)
		}

		if err := tx.Remove(node.ID); err != nil {
			return kvfs.ErrIO(op, p, err)
		}
		if err := tx.Remove(inodeID); err != nil {
			return kvfs.ErrIO(op, p, err)
		}
		return fs.putDirListing(tx, parentDir, parent, listing)
	})
}

// findINode resolves p to the store key of its inode.
func (fs *FileSystem) findINode(tx kvfs.Transaction, p string) (string, error) {
	if p == "/" {
		return RootID, nil
	}
	return fs.resolve(tx, p, make(map[string]struct{}))
}

// resolve walks p from the root one component at a time. visited holds the
// directory ids entered so far in this lookup; entering one again means the
// listings form a cycle.
func (fs *FileSystem) resolve(tx kvfs.Transaction, p string, visited map[string]struct{}) (string, error) {
	id, current := RootID, "/"
	for _, name := range strings.Split(strings.Trim(p, "/"), "/") {
		if _, seen := visited[id]; seen {
			logger := util.GetLogger("FS.resolve")
			logger.Debug().Str("path", current).Str("id", id).Msg("Resolution cycle detected")
			return "", kvfs.ErrIO("resolve", current, errors.New("infinite loop detected while finding inode"))
		}
		visited[id] = struct{}{}

		dir, err := fs.getINode(tx, current, id)
		if err != nil {
			return "", err
		}
		listing, err := fs.getDirListing(tx, current, dir)
		if err != nil {
			return "", err
		}
		next := path.Join(current, name)
		child, ok := listing[name]
		if !ok {
			return "", kvfs.ErrNotFound("resolve", next)
		}
		id, current = child, next
	}
	return id, nil
}

func (fs *FileSystem) findINodeAndGet(tx kvfs.Transaction, p string) (*Inode, error) {
	id, err := fs.findINode(tx, p)
	if err != nil {
		return nil, err
	}
	return fs.getINode(tx, p, id)
}

func (fs *FileSystem) getINode(tx kvfs.Transaction, p, id string) (*Inode, error) {
	data, found, err := tx.Get(id)
	if err != nil {
		return nil, kvfs.ErrIO("getinode", p, err)
	}
	if !found {
		return nil, kvfs.ErrNotFound("getinode", p)
	}
	node, err := DeserializeInode(data)
	if err != nil {
		return nil, kvfs.ErrIO("getinode", p, err)
	}
	return node, nil
}

func (fs *FileSystem) putINode(tx kvfs.Transaction, p, id string, node *Inode) error {
	buf, err := node.Serialize()
	if err != nil {
		return kvfs.ErrIO("putinode", p, err)
	}
	if _, err := tx.Put(id, buf, true); err != nil {
		return kvfs.ErrIO("putinode", p, err)
	}
	return nil
}

// getDirListing reads the name to inode id mapping of a directory.
func (fs *FileSystem) getDirListing(tx kvfs.Transaction, p string, node *Inode) (map[string]string, error) {
	if !node.IsDirectory() {
		return nil, kvfs.ErrNotDir("readdir", p)
	}
	data, found, err := tx.Get(node.ID)
	if err != nil {
		return nil, kvfs.ErrIO("readdir", p, err)
	}
	if !found {
		return nil, kvfs.ErrNotFound("readdir", p)
	}
	listing := make(map[string]string)
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, kvfs.ErrIO("readdir", p, fmt.Errorf("decode listing: %w", err))
	}
	return listing, nil
}

func (fs *FileSystem) putDirListing(tx kvfs.Transaction, p string, node *Inode, listing map[string]string) error {
	buf, err := json.Marshal(listing)
	if err != nil {
		return kvfs.ErrIO("writedir", p, err)
	}
	if _, err := tx.Put(node.ID, buf, true); err != nil {
		return kvfs.ErrIO("writedir", p, err)
	}
	return nil
}

// addNewNode stores data under a freshly generated key, retrying on
// collisions up to the configured number of attempts.
func (fs *FileSystem) addNewNode(tx kvfs.Transaction, p string, data []byte) (string, error) {
	logger := util.GetLogger("FS.addNewNode")
	retries := fs.cfg.MaxIDRetries
	if retries <= 0 {
		retries = config.DefaultMaxIDRetries
	}
	for attempt := 1; attempt <= retries; attempt++ {
		id := fs.newID()
		ok, err := tx.Put(id, data, false)
		if err != nil {
			return "", kvfs.ErrIO("create", p, err)
		}
		if ok {
			return id, nil
		}
		logger.Debug().Str("id", id).Int("attempt", attempt).Msg("Node id collision")
	}
	return "", kvfs.ErrIO("create", p, fmt.Errorf("unable to allocate a node id after %d attempts", retries))
}

// update runs fn inside a read-write transaction, committing on success and
// aborting on any failure.
func (fs *FileSystem) update(op, p string, fn func(tx kvfs.Transaction) error) error {
	tx, err := fs.store.BeginTransaction(kvfs.ReadWrite)
	if err != nil {
		return kvfs.ErrIO(op, p, err)
	}
	if err := fn(tx); err != nil {
		return fs.abort(op, p, tx, err)
	}
	if err := tx.Commit(); err != nil {
		return fs.abort(op, p, tx, kvfs.ErrIO(op, p, fmt.Errorf("commit: %w", err)))
	}
	return nil
}

// view runs fn inside a read-only transaction that is always released.
func (fs *FileSystem) view(fn func(tx kvfs.Transaction) error) error {
	tx, err := fs.store.BeginTransaction(kvfs.ReadOnly)
	if err != nil {
		return kvfs.ErrIO("begin", "", err)
	}
	defer tx.Abort() // nolint:errcheck
	return fn(tx)
}

func (fs *FileSystem) abort(op, p string, tx kvfs.Transaction, cause error) error {
	logger := util.GetLogger("FS.abort")
	if err := tx.Abort(); err != nil {
		logger.Error().Err(err).Str("op", op).Str("path", p).Msg("Failed to abort transaction")
		return multierr.Append(cause, kvfs.ErrIO(op, p, fmt.Errorf("abort: %w", err)))
	}
	logger.Debug().Err(cause).Str("op", op).Str("path", p).Msg("Transaction aborted")
	return cause
}

func (fs *FileSystem) now() int64 {
	return fs.clock.Now().UnixMilli()
}

func (fs *FileSystem) newFile(p string, flag *FileFlag, stats *Stats, data []byte) *File {
	f := NewFile(fs, p, flag, stats, data)
	f.clock = fs.clock
	return f
}

// cleanPath rejects relative paths and normalizes the rest.
func cleanPath(op, p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", kvfs.ErrInvalid(op, fmt.Sprintf("path must be absolute: %q", p))
	}
	return path.Clean(p), nil
}
