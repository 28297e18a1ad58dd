package jobs

import "sync"

// Namespace is the caller's variable store. Backends export process and job
// ids into it; the orchestrator stores background backends in it.
type Namespace struct {
	mu   sync.RWMutex
	vars map[string]any
}

func NewNamespace() *Namespace {
	return &Namespace{vars: map[string]any{}}
}

func (n *Namespace) Set(name string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vars[name] = value
}

func (n *Namespace) Get(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vars[name]
	return v, ok
}

// Backend returns the backend stored under name, if any.
func (n *Namespace) Backend(name string) (Backend, bool) {
	v, ok := n.Get(name)
	if !ok {
		return nil, false
	}
	b, ok := v.(Backend)
	return b, ok
}
