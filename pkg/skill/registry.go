package skill

import (
	"context"
	"sort"
	"sync"
)

// Capability is one named tool exposed to skills. Capabilities are wrapped
// uniformly by the per-call autonomy gate before a skill sees them.
type Capability interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

// NewCapability wraps a function as a named capability.
func NewCapability(name string, fn func(ctx context.Context, args map[string]any) (any, error)) Capability {
	return &CapabilityFunc{name: name, fn: fn}
}

func (c *CapabilityFunc) Name() string { return c.name }

func (c *CapabilityFunc) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return c.fn(ctx, args)
}

// Registry maps capability names to implementations.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds or replaces a capability.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	r.caps[c.Name()] = c
	r.mu.Unlock()
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names lists registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wrap returns a new registry with every capability passed through wrap.
// The per-call autonomy gate uses this to interpose on all tools at once.
func (r *Registry) Wrap(wrap func(Capability) Capability) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for _, c := range r.caps {
		out.Register(wrap(c))
	}
	return out
}
