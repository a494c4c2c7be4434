package auth

import "context"

type contextKey string

const browserContextKey contextKey = "browser"

// WithBrowser stores the request's browser state in ctx
func WithBrowser(ctx context.Context, b *Browser) context.Context {
	return context.WithValue(ctx, browserContextKey, b)
}

// BrowserFromContext retrieves the browser state stored by WithBrowser
func BrowserFromContext(ctx context.Context) (*Browser, bool) {
	b, ok := ctx.Value(browserContextKey).(*Browser)
	return b, ok
}
