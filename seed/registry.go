package seed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
)

// Source supplies the contents of a seeded file.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Factory builds a Source from its raw JSON definition.
type Factory func(raw []byte) (Source, error)

// Registry maps the "type" field of a source definition to its factory.
type Registry struct {
	factories *xsync.Map[string, Factory]
}

func NewRegistry() *Registry {
	return &Registry{factories: xsync.NewMap[string, Factory]()}
}

// Register ties a factory to a source type. The first registration of a
// type wins.
func (r *Registry) Register(sourceType string, f Factory) {
	r.factories.LoadOrStore(sourceType, f)
}

// Factory returns the factory registered for sourceType.
func (r *Registry) Factory(sourceType string) (Factory, error) {
	f, ok := r.factories.Load(sourceType)
	if !ok {
		return nil, fmt.Errorf("no factory for %q", sourceType)
	}
	return f, nil
}

// NewSource picks the right factory based on the "type" field.
func (r *Registry) NewSource(raw []byte) (Source, error) {
	var meta struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	if meta.Type == "" {
		return nil, fmt.Errorf("source is missing a type")
	}
	f, err := r.Factory(meta.Type)
	if err != nil {
		return nil, err
	}
	return f(raw)
}
