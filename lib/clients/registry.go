// Package clients tracks live client connections and their subscriptions.
package clients

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps live connections to their contexts
type Registry struct {
	contexts         *xsync.MapOf[Connection, *ClientContext]
	maxSubscriptions int
}

// NewRegistry creates a registry whose contexts hold at most
// maxSubscriptions subscriptions each
func NewRegistry(maxSubscriptions int) *Registry {
	if maxSubscriptions <= 0 {
		maxSubscriptions = DefaultMaxSubscriptions
	}
	return &Registry{
		contexts:         xsync.NewMapOf[Connection, *ClientContext](),
		maxSubscriptions: maxSubscriptions,
	}
}

// GetOrCreate returns the context of conn, creating it on first contact
func (r *Registry) GetOrCreate(conn Connection) *ClientContext {
	ctx, _ := r.contexts.LoadOrCompute(conn, func() *ClientContext {
		return newClientContext(conn, r.maxSubscriptions)
	})
	return ctx
}

// Get returns the context of conn if it exists
func (r *Registry) Get(conn Connection) (*ClientContext, bool) {
	return r.contexts.Load(conn)
}

// Remove drops the context of conn
func (r *Registry) Remove(conn Connection) bool {
	_, ok := r.contexts.LoadAndDelete(conn)
	return ok
}

// Range calls fn for each live context until fn returns false
func (r *Registry) Range(fn func(client *ClientContext) bool) {
	r.contexts.Range(func(_ Connection, client *ClientContext) bool {
		return fn(client)
	})
}

// Size returns the number of live contexts
func (r *Registry) Size() int {
	return r.contexts.Size()
}
