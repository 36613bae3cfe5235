package kvfs

// Metadata describes the capabilities of a filesystem instance to callers
// and to other backends layered on top of it.
type Metadata struct {
	Name               string `json:"name" yaml:"name"`
	Readonly           bool   `json:"readonly" yaml:"readonly"`
	SupportsLinks      bool   `json:"supportsLinks" yaml:"supports_links"`
	SupportsProperties bool   `json:"supportsProperties" yaml:"supports_properties"`
	Synchronous        bool   `json:"synchronous" yaml:"synchronous"`
	FreeSpace          uint64 `json:"freeSpace" yaml:"free_space"`   // 0 when unknown
	TotalSpace         uint64 `json:"totalSpace" yaml:"total_space"` // 0 when unknown
}
