package middleware

import (
	"net/http"

	"github.com/amara-dev/backend-soko/internal/tenant"
)

// RequireStore rejects requests whose storefront was not resolved upstream.
func RequireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.StoreFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"STORE_REQUIRED","message":"store is required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
