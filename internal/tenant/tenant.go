// Package tenant resolves which storefront a request is shopping against.
// Every cart and order is scoped to a store id; the resolver pins it on the
// request context so handlers never trust a body-supplied store.
package tenant

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const storeContextKey contextKey = "tenant.store_id"

// WithStore stores the storefront identifier on the context.
func WithStore(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, storeContextKey, id)
}

// StoreFromContext returns the storefront the request is scoped to.
func StoreFromContext(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(storeContextKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Resolver resolves the storefront from HTTP requests via header, falling
// back to a configured default for single-store deployments.
type Resolver struct {
	HeaderName   string
	DefaultStore uuid.UUID
}

// NewResolver returns a resolver for the given header name. An empty name
// selects "X-Store-ID".
func NewResolver(headerName string, defaultStore uuid.UUID) *Resolver {
	if headerName == "" {
		headerName = "X-Store-ID"
	}
	return &Resolver{HeaderName: headerName, DefaultStore: defaultStore}
}

// Middleware injects the resolved store id into the request context.
// Requests with a malformed header are rejected rather than silently
// falling back to the default store.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := strings.TrimSpace(req.Header.Get(r.HeaderName))
		if raw == "" {
			if r.DefaultStore != uuid.Nil {
				req = req.WithContext(WithStore(req.Context(), r.DefaultStore))
			}
			next.ServeHTTP(w, req)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid store id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, req.WithContext(WithStore(req.Context(), id)))
	})
}
