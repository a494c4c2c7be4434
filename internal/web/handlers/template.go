package handlers

import (
	"net/http"

	"github.com/gorilla/csrf"

	"github.com/shindakun/supalogin/internal/authform"
	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/models"
)

// formCopy is the fixed text of each form
type formCopy struct {
	title       string
	description string
	altPrompt   string
	altLabel    string
	altPath     string
}

func (h *Handlers) copyFor(intent authform.Intent) formCopy {
	if intent == authform.IntentSignUp {
		return formCopy{
			title:       "Create your account",
			description: "Welcome! Please fill in the details to get started.",
			altPrompt:   "Already have an account?",
			altLabel:    "Sign in",
			altPath:     "/sign-in",
		}
	}
	return formCopy{
		title:       "Sign in to " + h.siteName,
		description: "Welcome back! Please sign in to continue",
		altPrompt:   "Don't have an account?",
		altLabel:    "Sign up",
		altPath:     "/sign-up",
	}
}

// authPageData snapshots a controller for rendering. The password is only
// echoed back when keepPassword is set (a visibility toggle).
func (h *Handlers) authPageData(r *http.Request, ctl *authform.Controller, keepPassword bool) models.AuthPageData {
	view := ctl.View()
	text := h.copyFor(ctl.Intent())

	data := models.AuthPageData{
		Intent:       ctl.Intent().String(),
		Title:        text.title,
		Description:  text.description,
		AltPrompt:    text.altPrompt,
		AltLabel:     text.altLabel,
		AltPath:      text.altPath,
		Error:        view.Error,
		Email:        ctl.Email(),
		ShowPassword: view.ShowPassword,
		IsLoading:    view.IsLoading,
		Providers:    identity.Providers,
		CSRFToken:    csrf.Token(r),
	}
	if keepPassword {
		data.Password = ctl.Password()
	}
	return data
}

// renderPage renders a full page with the base layout
func (h *Handlers) renderPage(w http.ResponseWriter, status int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.renderer.Page(w, page, data); err != nil {
		h.logger.Printf("Error rendering %s template: %v", page, err)
	}
}

// renderPartial renders a partial template (for HTMX)
func (h *Handlers) renderPartial(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.Partial(w, name, data); err != nil {
		h.logger.Printf("Error rendering %s partial: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// redirect sends the browser to path, using HX-Redirect for HTMX requests
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}
