package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

type BuiltInSourceType = string

const (
	InlineSourceType BuiltInSourceType = "inline"
	FileSourceType   BuiltInSourceType = "file"
	HTTPSourceType   BuiltInSourceType = "http"
)

// RegisterBuiltins registers all built-in sources by default
// or only the specific ones if keys are provided
func (r *Registry) RegisterBuiltins(client HTTPDoer, sources ...BuiltInSourceType) {
	if len(sources) == 0 {
		sources = append(sources, InlineSourceType, FileSourceType, HTTPSourceType)
	}

	for _, key := range sources {
		switch key {
		case InlineSourceType:
			r.Register(InlineSourceType, decodeSource[InlineSource, *InlineSource])
		case FileSourceType:
			r.Register(FileSourceType, decodeSource[LocalFileSource, *LocalFileSource])
		case HTTPSourceType:
			r.RegisterHTTP(client)
		}
	}
}

// NewDefaultRegistry returns a registry with every built-in source, using
// http.DefaultClient for http sources.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBuiltins(http.DefaultClient)
	return r
}

func decodeSource[T any, PT interface {
	*T
	Source
}](raw []byte) (Source, error) {
	var src T
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, err
	}
	return PT(&src), nil
}

// InlineSource carries the file contents in the definition itself.
type InlineSource struct {
	Data string `json:"data"`
}

func (s *InlineSource) Fetch(context.Context) ([]byte, error) {
	return []byte(s.Data), nil
}

// LocalFileSource reads the contents from a file on the host.
type LocalFileSource struct {
	Path string `json:"path"`
}

func (s *LocalFileSource) Fetch(context.Context) ([]byte, error) {
	if s.Path == "" {
		return nil, fmt.Errorf("file source is missing a path")
	}
	return os.ReadFile(s.Path)
}
