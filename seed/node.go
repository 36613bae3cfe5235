// Package seed preloads a filesystem from JSON node definitions. File
// contents come from pluggable sources (inline text, local files, http).
package seed

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
)

// NodeType valid types are FileNodeType "file", DirNodeType "dir"
type NodeType string

const (
	FileNodeType NodeType = "file"
	DirNodeType  NodeType = "dir"
)

// Default permissions for nodes that do not set perms.
const (
	DefaultFilePerms = 0o644
	DefaultDirPerms  = 0o755
)

// Node is a parsed definition with defaults applied.
type Node struct {
	Path  string
	Type  NodeType
	Perms uint32
	// Owner is nil when the definition leaves ownership to the caller
	// applying it.
	Owner   *Owner
	Sources []Source // files only, in priority order
}

type Owner struct {
	UID uint32
	GID uint32
}

// nodeDTO is the JSON representation of [Node]
type nodeDTO struct {
	Path     string      `json:"path"`
	Type     NodeType    `json:"type"`
	Perms    *uint32     `json:"perms,omitempty"` // i.e. 0755
	OwnerUID *uint32     `json:"owner_uid,omitempty"`
	OwnerGID *uint32     `json:"owner_gid,omitempty"`
	Sources  []sourceDTO `json:"sources,omitempty"`
}

// sourceDTO holds the fields every source shares. The remaining fields
// depend on "type" and are decoded by the registered factory.
type sourceDTO struct {
	Type     string `json:"type"`
	Priority *int   `json:"priority,omitempty"` // Lower number = higher priority, defaults to array index
}

// Parse decodes a JSON array of node definitions, building each file's
// sources through reg.
func Parse(data []byte, reg *Registry) ([]Node, error) {
	var rawNodes []json.RawMessage
	if err := json.Unmarshal(data, &rawNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	nodes := make([]Node, 0, len(rawNodes))
	for i, raw := range rawNodes {
		node, err := parseNode(raw, reg)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func parseNode(raw []byte, reg *Registry) (Node, error) {
	var dto nodeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return Node{}, err
	}
	if dto.Path == "" {
		return Node{}, fmt.Errorf("missing path")
	}

	node := Node{
		Path: path.Clean("/" + dto.Path),
		Type: dto.Type,
	}
	if dto.OwnerUID != nil || dto.OwnerGID != nil {
		node.Owner = &Owner{
			UID: valueOrDefault(dto.OwnerUID, 0),
			GID: valueOrDefault(dto.OwnerGID, 0),
		}
	}

	switch dto.Type {
	case DirNodeType:
		if len(dto.Sources) > 0 {
			return Node{}, fmt.Errorf("directory %s cannot have sources", node.Path)
		}
		node.Perms = valueOrDefault(dto.Perms, DefaultDirPerms)
	case FileNodeType:
		node.Perms = valueOrDefault(dto.Perms, DefaultFilePerms)
		sources, err := parseSources(raw, dto.Sources, reg)
		if err != nil {
			return Node{}, err
		}
		node.Sources = sources
	default:
		return Node{}, fmt.Errorf("unknown node type: %q", dto.Type)
	}
	return node, nil
}

func parseSources(raw []byte, dtos []sourceDTO, reg *Registry) ([]Source, error) {
	// Extract raw sources array for the registry factories
	var rawMessage struct {
		Sources []json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(raw, &rawMessage); err != nil {
		return nil, err
	}

	type ranked struct {
		src      Source
		priority int
	}
	list := make([]ranked, 0, len(rawMessage.Sources))
	for i, rawSource := range rawMessage.Sources {
		src, err := reg.NewSource(rawSource)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		list = append(list, ranked{src: src, priority: valueOrDefault(dtos[i].Priority, i)})
	}
	sort.SliceStable(list, func(a, b int) bool { return list[a].priority < list[b].priority })

	sources := make([]Source, len(list))
	for i, r := range list {
		sources[i] = r.src
	}
	return sources, nil
}

func valueOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr != nil {
		return *ptr
	}
	return defaultVal
}
