package middleware

import (
	"net/http"

	"github.com/shindakun/supalogin/internal/config"
)

// SecurityHeaders adds the configured security headers to every response.
// HSTS is only sent when the public base URL is https.
func SecurityHeaders(cfg *config.Config) func(http.Handler) http.Handler {
	h := cfg.Server.Security.Headers
	headers := [][2]string{
		{"X-Frame-Options", h.XFrameOptions},
		{"X-Content-Type-Options", h.XContentTypeOptions},
		{"Referrer-Policy", h.ReferrerPolicy},
		{"Content-Security-Policy", h.ContentSecurityPolicy},
	}
	if cfg.IsHTTPS() {
		headers = append(headers, [2]string{"Strict-Transport-Security", h.StrictTransportSecurity})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, kv := range headers {
				if kv[1] != "" {
					w.Header().Set(kv[0], kv[1])
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
