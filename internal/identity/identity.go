// Package identity holds the types shared with the hosted identity service
// and a REST client for GoTrue-compatible endpoints (Supabase Auth).
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider names an OAuth identity provider the hosted service redirects to
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderApple    Provider = "apple"
	ProviderFacebook Provider = "facebook"
	ProviderTwitter  Provider = "twitter"
	ProviderAzure    Provider = "azure"
)

// Providers is the button order used on the auth pages
var Providers = []Provider{
	ProviderGoogle,
	ProviderApple,
	ProviderFacebook,
	ProviderTwitter,
	ProviderAzure,
}

// ParseProvider validates a provider name from a URL or form field
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported provider %q", s)
}

// Label returns the human-readable provider name used as button text
func (p Provider) Label() string {
	switch p {
	case ProviderGoogle:
		return "Google"
	case ProviderApple:
		return "Apple"
	case ProviderFacebook:
		return "Facebook"
	case ProviderTwitter:
		return "Twitter"
	case ProviderAzure:
		return "Microsoft"
	}
	return string(p)
}

// Credentials is the email/password pair entered on a form
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the subset of the identity service's user object the pages show
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the opaque proof of authentication issued by the identity
// service. It is only ever stored and handed back, never minted here.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// IsExpired reports whether the access token has expired at now
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// AuthError is a failure reported by the identity service. Message is
// shown to the user verbatim.
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Message extracts the user-facing text of any error returned by a client
func Message(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return err.Error()
}
