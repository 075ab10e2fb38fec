// Package loader activates modules and binds their exports.
//
// A load decodes the transmitted source (base64), extends the search path,
// resolves the source to a registered module, runs the module's factory and
// binds the requested exports into the name table. Bindings from one load are
// merged only if every requested export was found; names bound by earlier
// loads stay bound unless overwritten.
package loader

import (
	"context"
	"encoding/base64"
	"runtime/debug"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pipeworker/binding"
	"pipeworker/message"
	"pipeworker/module"
)

type Loader struct {
	registry   *module.Registry
	table      *binding.Table
	searchPath []string
	logger     *zap.Logger
}

type Option func(*Loader)

// WithSearchPath seeds the search path.
func WithSearchPath(dirs ...string) Option {
	return func(l *Loader) {
		l.AddSearchPath(dirs...)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func New(reg *module.Registry, table *binding.Table, opts ...Option) *Loader {
	l := &Loader{
		registry: reg,
		table:    table,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddSearchPath appends dirs not already on the search path. The search path
// only grows for the lifetime of the worker.
func (l *Loader) AddSearchPath(dirs ...string) {
	for _, dir := range dirs {
		if dir == "" || l.onSearchPath(dir) {
			continue
		}
		l.searchPath = append(l.searchPath, dir)
	}
}

func (l *Loader) onSearchPath(dir string) bool {
	for _, d := range l.searchPath {
		if d == dir {
			return true
		}
	}
	return false
}

// SearchPath returns a copy of the current search path.
func (l *Loader) SearchPath() []string {
	return append([]string(nil), l.searchPath...)
}

// Load handles a load message and returns the names it bound.
// Every failure is a *message.Error of KindLoad.
func (l *Loader) Load(ctx context.Context, req *message.Load) ([]string, error) {
	src, err := decodeSource(req.Code)
	if err != nil {
		return nil, message.NewError(message.KindLoad, "load", errors.Wrap(err, "decode code"))
	}

	// Search directories are in place before the module runs, so anything
	// the factory resolves already sees them.
	l.AddSearchPath(req.ModulePaths...)

	manifest, err := module.ParseSource(string(src))
	if err != nil {
		return nil, message.NewError(message.KindLoad, "load", err)
	}
	op := "load " + manifest.Module

	def, ok := l.registry.Lookup(manifest.Module)
	if !ok {
		return nil, message.NewError(message.KindLoad, op, errors.Errorf("unknown module %q", manifest.Module))
	}

	lc := module.NewLoadContext(ctx, manifest, l.searchPath, l.logger)
	exports, err := runFactory(def, lc)
	if err != nil {
		if me, ok := err.(*message.Error); ok {
			me.Op = op
			return nil, me
		}
		return nil, message.NewError(message.KindLoad, op, err)
	}

	bound := make([]binding.Binding, len(req.ExportNames))
	for i, name := range req.ExportNames {
		v, ok := exports[name]
		if !ok {
			return nil, message.NewError(message.KindLoad, op, errors.Errorf("module does not export %q", name))
		}
		b, err := binding.Wrap(name, v)
		if err != nil {
			return nil, message.NewError(message.KindLoad, op, err)
		}
		bound[i] = b
	}
	for i, name := range req.ExportNames {
		l.table.Set(name, bound[i])
	}

	l.logger.Debug("module loaded",
		zap.String("module", manifest.Module),
		zap.Strings("names", req.ExportNames),
		zap.Strings("search_path", l.searchPath))
	return append([]string(nil), req.ExportNames...), nil
}

// runFactory runs the module's top-level code, turning a panic into a load
// failure that carries the stack.
func runFactory(def *module.Definition, lc *module.LoadContext) (exports module.Exports, err error) {
	defer func() {
		if r := recover(); r != nil {
			exports = nil
			err = &message.Error{
				Kind:  message.KindLoad,
				Err:   errors.Errorf("panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()
	exports, err = def.Factory(lc)
	if err == nil && exports == nil {
		exports = module.Exports{}
	}
	return exports, err
}

// decodeSource accepts padded and unpadded standard base64.
func decodeSource(code string) ([]byte, error) {
	code = strings.TrimSpace(code)
	src, err := base64.StdEncoding.DecodeString(code)
	if err == nil {
		return src, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(code); rawErr == nil {
		return raw, nil
	}
	return nil, err
}
