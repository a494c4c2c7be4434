package middleware

import (
	"log"
	"net/http"

	"github.com/shindakun/supalogin/internal/auth"
)

// Browsers resolves the browser id cookie and puts that browser's state in
// the request context, pinned until the request (or event stream) ends.
// A browser without a cookie gets one issued.
func Browsers(manager *auth.Manager, logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := manager.BrowserID(w, r)
			if err != nil {
				logger.Printf("Failed to resolve browser: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			b := manager.Acquire(id)
			defer manager.Release(b)

			ctx := auth.WithBrowser(r.Context(), b)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
