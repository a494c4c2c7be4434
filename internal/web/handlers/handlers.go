package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"github.com/shindakun/supalogin/internal/auth"
	"github.com/shindakun/supalogin/internal/authform"
	"github.com/shindakun/supalogin/internal/homeview"
	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/metrics"
	"github.com/shindakun/supalogin/internal/models"
	"github.com/shindakun/supalogin/internal/version"
	"github.com/shindakun/supalogin/internal/web/templates"
)

// keepAliveInterval is how often an idle event stream is pinged
const keepAliveInterval = 25 * time.Second

// Options holds dependencies for HTTP handlers
type Options struct {
	Renderer *templates.Renderer
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	SiteName string

	// SubmitTimeout bounds identity calls, which outlive the request that
	// started them
	SubmitTimeout time.Duration
}

// Handlers holds dependencies for HTTP handlers
type Handlers struct {
	renderer      *templates.Renderer
	metrics       *metrics.Metrics
	logger        *log.Logger
	siteName      string
	submitTimeout time.Duration
}

// New creates a new Handlers instance
func New(opts Options) *Handlers {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.SiteName == "" {
		opts.SiteName = "website name"
	}
	return &Handlers{
		renderer:      opts.Renderer,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		siteName:      opts.SiteName,
		submitTimeout: opts.SubmitTimeout,
	}
}

// browser returns the request's browser state, set by the Browsers middleware
func browser(r *http.Request) *auth.Browser {
	b, ok := auth.BrowserFromContext(r.Context())
	if !ok {
		panic("handlers: browser middleware not installed")
	}
	return b
}

// detached returns a context for an identity call that must finish even if
// the browser goes away
func (h *Handlers) detached(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.submitTimeout)
}

// mountHome mounts a home view on the browser's session and tracks it in
// the observer gauge until unmounted
func (h *Handlers) mountHome(b *auth.Browser) *homeview.View {
	if h.metrics == nil {
		return homeview.Mount(b.Client, nil)
	}
	h.metrics.HomeObservers.Inc()
	return homeview.Mount(b.Client, h.metrics.HomeObservers.Dec)
}

// Home renders the signed-in greeting or the sign-in and sign-up links
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	b := browser(r)

	// refresh an expiring token before observing
	if _, err := b.Client.Session(r.Context()); err != nil {
		h.logger.Printf("Session refresh failed browser=%s: %v", b.ID, err)
	}

	view := h.mountHome(b)
	state := view.State()
	view.Unmount()

	data := models.HomePageData{
		SignedIn:  state.SignedIn,
		Email:     state.Email,
		CSRFToken: csrf.Token(r),
		Version:   version.GetVersion(),
	}
	h.renderPage(w, http.StatusOK, "home", data)
}

type sessionEvent struct {
	SignedIn bool   `json:"signed_in"`
	Email    string `json:"email,omitempty"`
}

// Events streams the browser's session state to the home page as
// server-sent events. The view stays mounted until the client disconnects.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	b := browser(r)
	rc := http.NewResponseController(w)

	// the server write timeout would otherwise end the stream
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Printf("Failed to clear write deadline: %v", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	view := h.mountHome(b)
	defer view.Unmount()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-view.Changes():
			if !ok {
				return
			}
			payload, err := json.Marshal(sessionEvent{SignedIn: state.SignedIn, Email: state.Email})
			if err != nil {
				h.logger.Printf("Failed to encode session event: %v", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", payload); err != nil {
				return
			}
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// SignInPage renders the sign-in form
func (h *Handlers) SignInPage(w http.ResponseWriter, r *http.Request) {
	h.formPage(w, r, authform.IntentSignIn)
}

// SignUpPage renders the sign-up form
func (h *Handlers) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.formPage(w, r, authform.IntentSignUp)
}

// SignInSubmit handles a sign-in form post
func (h *Handlers) SignInSubmit(w http.ResponseWriter, r *http.Request) {
	h.formSubmit(w, r, authform.IntentSignIn)
}

// SignUpSubmit handles a sign-up form post
func (h *Handlers) SignUpSubmit(w http.ResponseWriter, r *http.Request) {
	h.formSubmit(w, r, authform.IntentSignUp)
}

func (h *Handlers) formPage(w http.ResponseWriter, r *http.Request, intent authform.Intent) {
	ctl := browser(r).Form(intent)
	h.renderPage(w, http.StatusOK, "auth", h.authPageData(r, ctl, false))
}

// IsPasswordToggle reports whether a form post only flips password
// visibility. Such posts never reach the identity service.
func IsPasswordToggle(r *http.Request) bool {
	return r.Method == http.MethodPost && r.PostFormValue("action") == "toggle-password"
}

// formSubmit either flips password visibility or submits the credentials,
// depending on which button posted the form
func (h *Handlers) formSubmit(w http.ResponseWriter, r *http.Request, intent authform.Intent) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	b := browser(r)
	ctl := b.Form(intent)
	err := ctl.Apply(r.PostFormValue("email"), r.PostFormValue("password"), r.PostFormValue("show_password") == "true")
	if errors.Is(err, authform.ErrInFlight) {
		h.renderPage(w, http.StatusConflict, "auth", h.authPageData(r, ctl, false))
		return
	}

	if IsPasswordToggle(r) {
		ctl.ToggleShowPassword()
		h.renderPage(w, http.StatusOK, "auth", h.authPageData(r, ctl, true))
		return
	}

	ctx, cancel := h.detached(r)
	defer cancel()

	outcome, err := ctl.Submit(ctx)
	if errors.Is(err, authform.ErrInFlight) {
		h.renderPage(w, http.StatusConflict, "auth", h.authPageData(r, ctl, false))
		return
	}
	if outcome.Navigate != "" {
		h.logger.Printf("%s succeeded browser=%s", intent, b.ID)
		redirect(w, r, outcome.Navigate)
		return
	}

	h.renderPage(w, http.StatusOK, "auth", h.authPageData(r, ctl, false))
}

// Banner renders the current error banner of a form. The page polls it so
// the banner disappears once the error clears.
func (h *Handlers) Banner(w http.ResponseWriter, r *http.Request) {
	intent, ok := authform.ParseIntent(chi.URLParam(r, "intent"))
	if !ok {
		h.NotFound(w, r)
		return
	}
	ctl := browser(r).Form(intent)
	h.renderPartial(w, "error-banner", models.AuthPageData{
		Intent: intent.String(),
		Error:  ctl.View().Error,
	})
}

// OAuthStart sends the browser to the identity service for a provider
func (h *Handlers) OAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, err := identity.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	intent, ok := authform.ParseIntent(r.PostFormValue("intent"))
	if !ok {
		intent = authform.IntentSignIn
	}
	ctl := browser(r).Form(intent)

	redirectURL, err := ctl.SignInWithOAuth(r.Context(), provider)
	switch {
	case errors.Is(err, authform.ErrInFlight):
		h.observeOAuth(provider, "refused")
		h.renderPage(w, http.StatusConflict, "auth", h.authPageData(r, ctl, false))
	case err != nil:
		h.observeOAuth(provider, "failed")
		h.logger.Printf("OAuth start failed provider=%s: %v", provider, err)
		h.renderPage(w, http.StatusOK, "auth", h.authPageData(r, ctl, false))
	default:
		h.observeOAuth(provider, "redirected")
		redirect(w, r, redirectURL)
	}
}

func (h *Handlers) observeOAuth(provider identity.Provider, outcome string) {
	if h.metrics != nil {
		h.metrics.OAuthStarts.WithLabelValues(string(provider), outcome).Inc()
	}
}

// Callback completes an OAuth sign-in. Failures return to the sign-in form
// with the reason in its banner.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	b := browser(r)
	query := r.URL.Query()

	if msg := query.Get("error_description"); msg != "" || query.Get("error") != "" {
		if msg == "" {
			msg = query.Get("error")
		}
		b.SignIn.Fail(msg)
		redirect(w, r, "/sign-in")
		return
	}

	code := query.Get("code")
	if code == "" {
		b.SignIn.Fail("Missing authorization code. Please try again.")
		redirect(w, r, "/sign-in")
		return
	}

	ctx, cancel := h.detached(r)
	defer cancel()

	if err := b.Client.ExchangeCodeForSession(ctx, code); err != nil {
		h.logger.Printf("OAuth code exchange failed browser=%s: %v", b.ID, err)
		b.SignIn.Fail(identity.Message(err))
		redirect(w, r, "/sign-in")
		return
	}

	redirect(w, r, authform.HomePath)
}

// SignOut ends the browser's session. The home view picks up the change
// from the session holder.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request) {
	b := browser(r)

	ctx, cancel := h.detached(r)
	defer cancel()
	b.Client.SignOut(ctx)

	redirect(w, r, authform.HomePath)
}

// Healthz reports liveness and the running version
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.GetFullVersion(),
	})
}

// NotFound renders the 404 page
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, http.StatusNotFound, "404", nil)
}

// Moved permanently redirects an old path to its replacement
func Moved(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusMovedPermanently)
	}
}
