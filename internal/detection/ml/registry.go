package ml

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Registry owns the active artifact set. Readers take the current snapshot
// with one atomic load; Reload swaps in a complete new set or nothing.
type Registry struct {
	dir     string
	current atomic.Pointer[Artifacts]
	mu      sync.Mutex // serializes reloads
	logger  *zap.Logger
}

// NewRegistry loads the initial artifact set from dir.
func NewRegistry(dir string, logger *zap.Logger) (*Registry, error) {
	artifacts, err := LoadArtifacts(dir)
	if err != nil {
		return nil, err
	}

	r := &Registry{dir: dir, logger: logger}
	r.current.Store(artifacts)

	logger.Info("model artifacts loaded",
		zap.String("dir", dir),
		zap.String("version", artifacts.Version.String()),
		zap.Int("arity", artifacts.ExpectedArity()),
		zap.Strings("classes", artifacts.Labels),
	)
	return r, nil
}

// NewStaticRegistry wraps an already built artifact set. Reload re-reads
// artifacts.Dir.
func NewStaticRegistry(artifacts *Artifacts, logger *zap.Logger) *Registry {
	r := &Registry{dir: artifacts.Dir, logger: logger}
	r.current.Store(artifacts)
	return r
}

// Current returns the active snapshot.
func (r *Registry) Current() *Artifacts {
	return r.current.Load()
}

// Dir returns the artifact directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Reload loads the artifact directory again and activates it. On failure the
// previous snapshot stays active and the error wraps ErrModelUnavailable.
func (r *Registry) Reload() (*Artifacts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := LoadArtifacts(r.dir)
	if err != nil {
		r.logger.Error("model reload failed, keeping previous artifacts",
			zap.String("dir", r.dir),
			zap.Error(err),
		)
		return nil, err
	}

	prev := r.current.Swap(next)
	if prev != nil && next.Version.LessThan(prev.Version) {
		r.logger.Warn("model downgraded",
			zap.String("from", prev.Version.String()),
			zap.String("to", next.Version.String()),
		)
	}

	r.logger.Info("model artifacts reloaded",
		zap.String("version", next.Version.String()),
		zap.Int("arity", next.ExpectedArity()),
	)
	return next, nil
}
