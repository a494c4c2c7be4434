package middleware

import (
	"net/http"

	"github.com/gorilla/csrf"
)

// CSRFFieldName is the form field the templates carry the token in
const CSRFFieldName = "csrf_token"

// CSRFProtection creates a CSRF protection middleware using gorilla/csrf.
// Every unsafe method is checked, the OAuth start buttons included.
func CSRFProtection(secret []byte, secure bool) func(http.Handler) http.Handler {
	protect := csrf.Protect(
		secret,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.FieldName(CSRFFieldName),
		csrf.RequestHeader("X-CSRF-Token"), // For HTMX requests
		csrf.ErrorHandler(http.HandlerFunc(CSRFFailureHandler)),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		if secure {
			return protected
		}
		// Over plain HTTP the referer check must not demand TLS
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			protected.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

// CSRFFailureHandler provides HTMX-aware error handling for CSRF failures
func CSRFFailureHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<div class="error" role="alert">
			Your form has expired. Please <a href="javascript:window.location.reload()">refresh the page</a> and try again.
		</div>`))
		return
	}

	http.Error(w, "CSRF token validation failed. Please refresh the page and try again.", http.StatusForbidden)
}
