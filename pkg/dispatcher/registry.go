package dispatcher

import (
	"context"
	"sort"
	"sync"

	"github.com/morezero/ws-dispatch/pkg/schema"
)

// Handler implements one method. ctx is cancelled when the transport gives up
// on the message.
type Handler func(ctx context.Context, msg *Message, conn Connection, req *RequestContext) (Outcome, error)

// Entry is a registered method.
type Entry struct {
	Handler Handler
	Schema  schema.Pair
}

// Registry maps method names to entries. Registration normally happens at
// startup, but the map is guarded so late registration is safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register stores the entry for method, replacing any previous one.
// Schemas are not checked here; see Dispatcher.Precompile.
func (r *Registry) Register(method string, handler Handler, s schema.Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[method] = &Entry{Handler: handler, Schema: s}
}

// Get returns the entry for method.
func (r *Registry) Get(method string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[method]
	return e, ok
}

// Has reports whether method is registered.
func (r *Registry) Has(method string) bool {
	_, ok := r.Get(method)
	return ok
}

// Methods returns all registered method names, sorted.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
