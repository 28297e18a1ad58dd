package internal

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/luccadibe/jobctl/internal/jobs"
)

// Backend names understood by the default registry.
const (
	BackendLocal   = "local"
	BackendRemote  = "ssh"
	BackendCluster = "slurm"
)

// Factory builds a backend for one submission.
type Factory func(opts jobs.Options) (jobs.Backend, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in backends. The empty name
// resolves to the local backend.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	local := func(opts jobs.Options) (jobs.Backend, error) { return jobs.NewLocal(opts) }
	r.Register("", local)
	r.Register(BackendLocal, local)
	r.Register(BackendRemote, func(opts jobs.Options) (jobs.Backend, error) { return jobs.NewRemote(opts) })
	r.Register(BackendCluster, func(opts jobs.Options) (jobs.Backend, error) { return jobs.NewCluster(opts) })
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", jobs.ErrUnknownBackend, name)
	}
	return factory, nil
}

// Names lists the registered backend names, without the empty alias.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Sorted(maps.Keys(r.factories))
	return slices.DeleteFunc(names, func(name string) bool { return name == "" })
}
