// Package authform drives the sign-in and sign-up forms: it owns the
// entered credentials and the view state, fires exactly one identity call
// per submit and decides where the browser goes next.
package authform

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shindakun/supalogin/internal/identity"
)

// ErrorDisplayDuration is how long an error banner stays up
const ErrorDisplayDuration = 4 * time.Second

// FallbackMessage is shown when sign-up succeeds without a session
const FallbackMessage = "An unexpected error occurred. Please try signing in."

// HomePath is where a successful submit navigates
const HomePath = "/"

// ErrInFlight is returned when a submit is attempted while another is
// outstanding on the same form
var ErrInFlight = errors.New("a request is already in progress")

// Intent is what a form's submit does
type Intent int

const (
	IntentSignIn Intent = iota
	IntentSignUp
)

func (i Intent) String() string {
	switch i {
	case IntentSignIn:
		return "sign-in"
	case IntentSignUp:
		return "sign-up"
	}
	return "unknown"
}

// ParseIntent maps a path segment or form value to an Intent
func ParseIntent(s string) (Intent, bool) {
	switch s {
	case "sign-in", "signin":
		return IntentSignIn, true
	case "sign-up", "signup":
		return IntentSignUp, true
	}
	return 0, false
}

// State is the controller's position in the submit lifecycle
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// ViewState is what the page renders
type ViewState struct {
	IsLoading    bool
	Error        string
	ShowPassword bool
}

// Outcome tells the caller what to do after a submit resolves
type Outcome struct {
	// Navigate is the path to send the browser to, empty to stay
	Navigate string
}

// Authenticator is the slice of the identity client the forms call
type Authenticator interface {
	SignInWithPassword(ctx context.Context, creds identity.Credentials) error
	SignUp(ctx context.Context, creds identity.Credentials) (*identity.Session, error)
	SignInWithOAuth(ctx context.Context, provider identity.Provider) (string, error)
}

// Controller is the state machine behind one form
type Controller struct {
	intent   Intent
	client   Authenticator
	clock    Clock
	observer func(Intent, State)

	mu         sync.Mutex
	email      string
	password   string
	view       ViewState
	state      State
	clearTimer Timer
	errorGen   uint64
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces the wall clock used for the error timer
func WithClock(c Clock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithObserver registers a hook called on every resolved submit
func WithObserver(fn func(Intent, State)) Option {
	return func(ctrl *Controller) { ctrl.observer = fn }
}

// New creates an idle controller
func New(intent Intent, client Authenticator, opts ...Option) *Controller {
	c := &Controller{
		intent: intent,
		client: client,
		clock:  realClock{},
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Intent returns the form's declared intent
func (c *Controller) Intent() Intent {
	return c.intent
}

// SetEmail records the email field
func (c *Controller) SetEmail(email string) {
	c.mu.Lock()
	c.email = email
	c.mu.Unlock()
}

// SetPassword records the password field
func (c *Controller) SetPassword(password string) {
	c.mu.Lock()
	c.password = password
	c.mu.Unlock()
}

// Apply records the posted fields together. The fields are frozen while a
// submit is in flight and Apply returns ErrInFlight without changing them.
func (c *Controller) Apply(email, password string, showPassword bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view.IsLoading {
		return ErrInFlight
	}
	c.email = email
	c.password = password
	c.view.ShowPassword = showPassword
	return nil
}

// ToggleShowPassword flips password visibility
func (c *Controller) ToggleShowPassword() {
	c.mu.Lock()
	c.view.ShowPassword = !c.view.ShowPassword
	c.mu.Unlock()
}

// Email returns the entered email
func (c *Controller) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.email
}

// Password returns the entered password
func (c *Controller) Password() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.password
}

// View returns a copy of the view state
func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit sends the entered credentials with the form's intent. The lock is
// released while the identity call is outstanding so the page can still
// render the loading state.
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.view.IsLoading {
		c.mu.Unlock()
		return Outcome{}, ErrInFlight
	}
	c.view.IsLoading = true
	c.clearErrorLocked()
	c.state = StateSubmitting
	creds := identity.Credentials{Email: c.email, Password: c.password}
	c.mu.Unlock()

	var (
		err     error
		session *identity.Session
	)
	switch c.intent {
	case IntentSignUp:
		session, err = c.client.SignUp(ctx, creds)
	default:
		err = c.client.SignInWithPassword(ctx, creds)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.IsLoading = false

	var outcome Outcome
	switch {
	case err != nil:
		c.failLocked(identity.Message(err))
	case c.intent == IntentSignUp && session == nil:
		c.failLocked(FallbackMessage)
	default:
		c.state = StateSuccess
		c.password = ""
		outcome.Navigate = HomePath
	}

	if c.observer != nil {
		c.observer(c.intent, c.state)
	}
	return outcome, nil
}

// SignInWithOAuth asks the identity service for the provider redirect. Only
// a failure of that call is surfaced; no session is awaited.
func (c *Controller) SignInWithOAuth(ctx context.Context, provider identity.Provider) (string, error) {
	c.mu.Lock()
	if c.view.IsLoading {
		c.mu.Unlock()
		return "", ErrInFlight
	}
	c.mu.Unlock()

	redirectURL, err := c.client.SignInWithOAuth(ctx, provider)
	if err != nil {
		c.Fail(identity.Message(err))
		return "", err
	}
	return redirectURL, nil
}

// Fail surfaces an externally reported failure with the normal banner
// lifecycle
func (c *Controller) Fail(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(message)
}

// Close cancels any pending error clear
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
}

func (c *Controller) failLocked(message string) {
	c.state = StateFailed
	c.view.Error = message
	c.scheduleClearLocked()
}

// scheduleClearLocked replaces any pending clear with one for the current
// error. The generation check makes a superseded timer that already fired a
// no-op.
func (c *Controller) scheduleClearLocked() {
	c.stopTimerLocked()
	c.errorGen++
	gen := c.errorGen
	c.clearTimer = c.clock.AfterFunc(ErrorDisplayDuration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.errorGen != gen {
			return
		}
		c.view.Error = ""
		c.clearTimer = nil
	})
}

func (c *Controller) clearErrorLocked() {
	c.stopTimerLocked()
	c.errorGen++
	c.view.Error = ""
}

func (c *Controller) stopTimerLocked() {
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
}
