package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tiliavir/shiftq/internal/config"
)

// ErrUnknownSection is returned for a section name that is not configured.
var ErrUnknownSection = errors.New("unknown section")

// Registry holds one engine per configured section.
type Registry struct {
	order   []string
	engines map[string]*Engine
}

// NewRegistry builds an engine for every section in cfg.
func NewRegistry(cfg config.Config, deps Deps) (*Registry, error) {
	if len(cfg.Sections) == 0 {
		return nil, config.ErrNoSections
	}
	r := &Registry{engines: make(map[string]*Engine, len(cfg.Sections))}
	for _, s := range cfg.Sections {
		r.order = append(r.order, s.Name)
		r.engines[s.Name] = New(s, cfg, deps)
	}
	return r, nil
}

// Get returns the engine for name. An empty name selects the only section
// when exactly one is configured.
func (r *Registry) Get(name string) (*Engine, error) {
	if name == "" {
		if len(r.order) != 1 {
			return nil, fmt.Errorf("%w: %d sections configured, choose one", ErrUnknownSection, len(r.order))
		}
		name = r.order[0]
	}
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
	return e, nil
}

// Names returns the section names in configuration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Start starts every engine.
func (r *Registry) Start(ctx context.Context) {
	for _, name := range r.order {
		r.engines[name].Start(ctx)
	}
}

// Stop stops every engine.
func (r *Registry) Stop() {
	for _, name := range r.order {
		r.engines[name].Stop()
	}
}
