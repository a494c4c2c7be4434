package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/shindakun/supalogin/internal/authform"
	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/metrics"
	"github.com/shindakun/supalogin/internal/models"
	"github.com/shindakun/supalogin/internal/session"
	"github.com/shindakun/supalogin/internal/storage"
)

const (
	cookieName       = "supalogin-browser"
	cookieKeyBrowser = "browser_id"
)

// Browser is everything held for one browser: its identity client, the
// session it observes and one controller per form
type Browser struct {
	ID     string
	Client *Client
	Holder *session.Holder
	SignIn *authform.Controller
	SignUp *authform.Controller

	persist *session.Subscription

	// mu guards the pin count. A browser evicted while pinned is closed
	// by its last Release instead.
	mu      sync.Mutex
	refs    int
	evicted bool
	closed  bool
}

// Form returns the controller for intent
func (b *Browser) Form(intent authform.Intent) *authform.Controller {
	if intent == authform.IntentSignUp {
		return b.SignUp
	}
	return b.SignIn
}

// pin marks the browser in use and resident. It fails once closed.
func (b *Browser) pin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.refs++
	b.evicted = false
	return true
}

// unpin reports whether the browser became idle and whether it must now
// be closed
func (b *Browser) unpin() (idle, closeNow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs--
	if b.refs > 0 {
		return false, false
	}
	if b.evicted && !b.closed {
		b.closed = true
		return true, true
	}
	return true, false
}

// evict reports whether the browser is idle and must close now
func (b *Browser) evict() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evicted = true
	if b.refs > 0 || b.closed {
		return false
	}
	b.closed = true
	return true
}

func (b *Browser) close() {
	b.persist.Unsubscribe()
	b.SignIn.Close()
	b.SignUp.Close()
}

// ManagerOptions configures a Manager
type ManagerOptions struct {
	Service     Service
	DB          *sql.DB
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	CallbackURL string

	// SessionSecret signs the browser id cookie
	SessionSecret  string
	CookieMaxAge   int
	CookieSecure   bool
	CookieSameSite http.SameSite

	// Capacity bounds browsers held in memory; IdleTTL evicts idle ones
	Capacity int
	IdleTTL  time.Duration

	// Clock drives form error timers; nil means wall clock
	Clock authform.Clock
}

// Manager hands out per-browser state keyed by a signed cookie
type Manager struct {
	opts     ManagerOptions
	store    *sessions.CookieStore
	browsers *expirable.LRU[string, *Browser]

	// mu serializes Acquire and Release so one browser id never gets two
	// states. inUse holds pinned browsers, including evicted ones.
	mu    sync.Mutex
	inUse map[string]*Browser
}

// NewManager creates a manager with HTTP-only browser cookies
func NewManager(opts ManagerOptions) *Manager {
	if opts.Capacity <= 0 {
		opts.Capacity = 10000
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}

	store := sessions.NewCookieStore([]byte(opts.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   opts.CookieMaxAge,
		HttpOnly: true, // Prevent JavaScript access
		Secure:   opts.CookieSecure,
		SameSite: opts.CookieSameSite,
	}

	m := &Manager{opts: opts, store: store, inUse: make(map[string]*Browser)}
	m.browsers = expirable.NewLRU[string, *Browser](opts.Capacity, m.onEvict, opts.IdleTTL)
	return m
}

// onEvict runs with the LRU lock held and must not call back into it.
// A pinned browser survives until its last Release.
func (m *Manager) onEvict(_ string, b *Browser) {
	if b.evict() {
		m.closeBrowser(b)
	}
}

func (m *Manager) closeBrowser(b *Browser) {
	b.close()
	if m.opts.Metrics != nil {
		m.opts.Metrics.Browsers.Dec()
	}
}

// BrowserID returns the id in the request's cookie, issuing a new cookie
// when there is none
func (m *Manager) BrowserID(w http.ResponseWriter, r *http.Request) (string, error) {
	// A cookie that fails to decode still yields a fresh session
	cookieSession, _ := m.store.Get(r, cookieName)

	if id, ok := cookieSession.Values[cookieKeyBrowser].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.New().String()
	cookieSession.Values[cookieKeyBrowser] = id
	if err := cookieSession.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save browser cookie: %w", err)
	}
	return id, nil
}

// Acquire returns the state for id pinned for the caller, creating it and
// restoring its stored session on first use. A pinned browser is never
// closed, even if it is evicted, so an in-flight submit or a mounted view
// keeps the same state. Every Acquire must be paired with a Release.
func (m *Manager) Acquire(id string) *Browser {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.browsers.Peek(id)
	if !ok {
		b, ok = m.inUse[id]
	}
	for {
		if !ok {
			b = m.newBrowser(id)
			if m.opts.Metrics != nil {
				m.opts.Metrics.Browsers.Inc()
			}
		}
		// re-adding refreshes the idle deadline and makes an evicted
		// browser resident again
		m.browsers.Add(id, b)
		if b.pin() {
			break
		}
		ok = false
	}
	m.inUse[id] = b
	return b
}

// Release unpins b. An evicted browser closes with its last Release.
func (m *Manager) Release(b *Browser) {
	m.mu.Lock()
	idle, closeNow := b.unpin()
	if idle && m.inUse[b.ID] == b {
		delete(m.inUse, b.ID)
	}
	m.mu.Unlock()

	if closeNow {
		m.closeBrowser(b)
	}
}

// Len returns how many browsers are resident in the cache
func (m *Manager) Len() int {
	return m.browsers.Len()
}

// Close evicts every browser. Pinned ones close on their last Release.
func (m *Manager) Close() {
	m.browsers.Purge()
}

func (m *Manager) newBrowser(id string) *Browser {
	holder := session.NewHolder(m.restore(id))
	client := NewClient(m.opts.Service, holder, m.opts.CallbackURL, m.opts.Logger)

	formOpts := []authform.Option{authform.WithObserver(m.observeSubmit)}
	if m.opts.Clock != nil {
		formOpts = append(formOpts, authform.WithClock(m.opts.Clock))
	}

	b := &Browser{
		ID:     id,
		Client: client,
		Holder: holder,
		SignIn: authform.New(authform.IntentSignIn, client, formOpts...),
		SignUp: authform.New(authform.IntentSignUp, client, formOpts...),
	}
	b.persist = holder.Subscribe(func(event session.Event, s *identity.Session) {
		m.persistEvent(id, event, s)
	})
	return b
}

func (m *Manager) observeSubmit(intent authform.Intent, state authform.State) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.AuthAttempts.WithLabelValues(intent.String(), string(state)).Inc()
	}
}

// restore loads the session stored for a browser, if any
func (m *Manager) restore(id string) *identity.Session {
	if m.opts.DB == nil {
		return nil
	}
	rec, err := storage.GetSession(m.opts.DB, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		m.opts.Logger.Printf("failed to restore session browser=%s: %v", id, err)
		return nil
	}
	return rec.Identity()
}

// persistEvent is the storage observer: it mirrors every session
// transition of a browser into the database
func (m *Manager) persistEvent(id string, event session.Event, s *identity.Session) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.SessionEvents.WithLabelValues(string(event)).Inc()
	}
	if m.opts.DB == nil {
		return
	}

	var err error
	switch event {
	case session.EventSignedIn, session.EventTokenRefreshed:
		err = storage.SaveSession(m.opts.DB, models.NewSessionRecord(id, s))
	case session.EventSignedOut:
		err = storage.DeleteSession(m.opts.DB, id)
	}
	if err != nil {
		m.opts.Logger.Printf("failed to persist %s browser=%s: %v", event, id, err)
	}
}
