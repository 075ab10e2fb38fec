// Package module is the registry of modules a worker can load.
//
// Modules are compiled into the worker binary and registered by identifier.
// A load message names one of them (directly, or through a TOML manifest) and
// the module's factory produces its exports.
package module

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Exports maps export names to Go values. Values are wrapped into bindings by
// the loader: functions become callables, struct pointers objects.
type Exports map[string]any

// Factory builds a fresh set of exports. It runs once per load, like a
// module's top-level code; an error or panic fails the load.
type Factory func(lc *LoadContext) (Exports, error)

// Definition describes a registered module.
type Definition struct {
	ID      string
	Doc     string
	Factory Factory
}

// Registry holds module definitions by ID.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds def. IDs are unique.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return errors.New("module: empty id")
	}
	if !identRe.MatchString(def.ID) {
		return errors.Errorf("module: invalid id %q", def.ID)
	}
	if def.Factory == nil {
		return errors.Errorf("module %s: nil factory", def.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.ID]; dup {
		return errors.Errorf("module %s: already registered", def.ID)
	}
	r.defs[def.ID] = &def
	return nil
}

// MustRegister is Register for init-time registration.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(id string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// IDs lists the registered module IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadContext is what a factory sees of the load that runs it.
type LoadContext struct {
	Context    context.Context
	Module     string
	SearchPath []string
	Logger     *zap.Logger

	manifest *Manifest
}

// NewLoadContext prepares the context for running m's factory.
func NewLoadContext(ctx context.Context, m *Manifest, searchPath []string, logger *zap.Logger) *LoadContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoadContext{
		Context:    ctx,
		Module:     m.Module,
		SearchPath: append([]string(nil), searchPath...),
		Logger:     logger.With(zap.String("module", m.Module)),
		manifest:   m,
	}
}

// DecodeConfig decodes the manifest's [config] table into v. Without a
// config table v is left untouched.
func (lc *LoadContext) DecodeConfig(v any) error {
	if lc.manifest == nil {
		return nil
	}
	return lc.manifest.DecodeConfig(v)
}

// Resolve locates rel along the search path, first directory first. An
// absolute rel is checked as-is.
func (lc *LoadContext) Resolve(rel string) (string, error) {
	return Resolve(lc.SearchPath, rel)
}
