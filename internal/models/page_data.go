package models

import "github.com/shindakun/supalogin/internal/identity"

// AuthPageData is what the sign-in and sign-up pages render from
type AuthPageData struct {
	// Intent is "sign-in" or "sign-up"; it picks the form action and copy
	Intent string

	Title       string
	Description string

	// AltPrompt, AltLabel and AltPath render the footer link to the other form
	AltPrompt string
	AltLabel  string
	AltPath   string

	// Error is the banner text, empty for no banner
	Error string

	// Email repopulates the form after a failed submit. The password is only
	// kept across a visibility toggle.
	Email    string
	Password string

	ShowPassword bool
	IsLoading    bool

	// Providers are the OAuth buttons, in display order
	Providers []identity.Provider

	CSRFToken string
}

// HomePageData is what the home page renders from
type HomePageData struct {
	SignedIn  bool
	Email     string
	CSRFToken string
	Version   string
}
