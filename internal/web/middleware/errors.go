package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/shindakun/supalogin/internal/web/templates"
)

type errorPageData struct {
	Title   string
	Message string
}

// ErrorHandler wraps an http.Handler and recovers from panics, rendering the error page
func ErrorHandler(next http.Handler, renderer *templates.Renderer, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.Printf("[ERROR] Panic recovered: %v\n%s", err, debug.Stack())

				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				data := errorPageData{Title: "Error", Message: "Something went wrong. Please try again."}
				if renderErr := renderer.Page(w, "error", data); renderErr != nil {
					logger.Printf("[ERROR] Failed to render 500 page: %v", renderErr)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
