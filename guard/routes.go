package guard

import "sync"

// Routes records, per handler identity, whether the handler is public.
// Identities are free-form strings chosen at registration time: an HTTP
// route pattern such as "GET /healthz" or a GraphQL field such as
// "Query.version". Handlers that were never marked are protected.
type Routes struct {
	mu     sync.RWMutex
	public map[string]bool
}

// NewRoutes returns an empty route table.
func NewRoutes() *Routes {
	return &Routes{public: map[string]bool{}}
}

// MarkPublic flags handler as reachable without authentication.
func (r *Routes) MarkPublic(handler string) {
	r.mu.Lock()
	r.public[handler] = true
	r.mu.Unlock()
}

// IsPublic reports whether handler was marked public. Unknown handlers are
// protected.
func (r *Routes) IsPublic(handler string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.public[handler]
}
