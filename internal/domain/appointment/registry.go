package appointment

import "sync"

// Registry hands out one Store per tenant. Stores are created on first use
// and share the registry's backends and notifiers.
type Registry struct {
	opts Options

	mu     sync.Mutex
	stores map[string]*Store
	stops  []func()
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:   opts.withDefaults(),
		stores: make(map[string]*Store),
	}
}

// Origin identifies this process on shared notifiers.
func (r *Registry) Origin() string { return r.opts.Origin }

// Notifiers returns the notifiers shared by every store.
func (r *Registry) Notifiers() []Notifier {
	return append([]Notifier(nil), r.opts.Notifiers...)
}

func (r *Registry) ForTenant(tenantID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[tenantID]; ok {
		return s
	}
	s := NewStore(tenantID, r.opts)
	r.stops = append(r.stops, s.Replicate())
	r.stores[tenantID] = s
	return s
}

// Tenants returns the tenants that have a store in this process.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.stores))
	for t := range r.stores {
		out = append(out, t)
	}
	return out
}

// Close detaches every store from the notifiers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stop := range r.stops {
		stop()
	}
	r.stops = nil
}
