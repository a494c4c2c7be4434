package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shindakun/supalogin/internal/auth"
	"github.com/shindakun/supalogin/internal/authform"
	"github.com/shindakun/supalogin/internal/config"
	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/metrics"
	"github.com/shindakun/supalogin/internal/storage"
	"github.com/shindakun/supalogin/internal/web/templates"
)

const (
	testEmail    = "user@example.com"
	testPassword = "correct-horse"
)

// fakeGoTrue answers the identity endpoints the app calls
type fakeGoTrue struct {
	mu        sync.Mutex
	verifiers []string
	logouts   int
}

func (f *fakeGoTrue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if r.Method == http.MethodPost && r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	switch {
	case r.URL.Path == "/auth/v1/settings":
		writeJSON(w, http.StatusOK, map[string]any{
			"external": map[string]bool{"google": true, "apple": false},
		})
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if body["password"] != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
		writeJSON(w, http.StatusOK, tokenBody(body["email"]))
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "pkce":
		f.mu.Lock()
		f.verifiers = append(f.verifiers, body["code_verifier"])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, tokenBody("oauth@example.com"))
	case r.URL.Path == "/auth/v1/signup":
		if strings.HasPrefix(body["email"], "pending") {
			writeJSON(w, http.StatusOK, map[string]string{"id": "u-pending", "email": body["email"]})
			return
		}
		writeJSON(w, http.StatusOK, tokenBody(body["email"]))
	case r.URL.Path == "/auth/v1/logout":
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func tokenBody(email string) map[string]any {
	return map[string]any{
		"access_token":  "access-" + email,
		"refresh_token": "refresh-" + email,
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          map[string]string{"id": "u-" + email, "email": email},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// manualClock holds error-clear timers until fire is called
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	f       func()
	stopped bool
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) authform.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) fire() {
	c.mu.Lock()
	var due []func()
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type testApp struct {
	server   *httptest.Server
	client   *http.Client
	identity *fakeGoTrue
	clock    *manualClock
}

func newTestApp(t *testing.T, mutate ...func(*config.Config)) *testApp {
	t.Helper()

	gotrue := &fakeGoTrue{}
	idSrv := httptest.NewServer(gotrue)
	t.Cleanup(idSrv.Close)

	cfg := config.Default()
	cfg.Identity.URL = idSrv.URL
	cfg.Identity.AnonKey = "anon"
	cfg.Session.Secret = strings.Repeat("k", 32)
	cfg.Server.Security.CSRFEnabled = false
	cfg.RateLimit.Burst = 100
	for _, fn := range mutate {
		fn(cfg)
	}

	db, err := storage.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc, err := identity.NewService(identity.ServiceOptions{BaseURL: idSrv.URL, AnonKey: "anon"})
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clock := &manualClock{}

	mgr := auth.NewManager(auth.ManagerOptions{
		Service:       svc,
		DB:            db,
		Metrics:       m,
		Logger:        logger,
		CallbackURL:   "http://app.test/auth/callback",
		SessionSecret: cfg.Session.Secret,
		CookieMaxAge:  3600,
		Clock:         clock,
	})
	t.Cleanup(mgr.Close)

	renderer, err := templates.New()
	if err != nil {
		t.Fatalf("templates.New() failed: %v", err)
	}

	appSrv := httptest.NewServer(NewRouter(RouterOptions{
		Config:   cfg,
		Manager:  mgr,
		Renderer: renderer,
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	}))
	t.Cleanup(appSrv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() failed: %v", err)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testApp{server: appSrv, client: client, identity: gotrue, clock: clock}
}

func (a *testApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := a.client.Get(a.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp, readBody(t, resp)
}

func (a *testApp) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := a.client.PostForm(a.server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp, readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(b)
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}, "action": {"submit"}}
}

func TestHomeSignedOut(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, `href="/sign-in"`) || !strings.Contains(body, `href="/sign-up"`) {
		t.Error("signed-out home should link to both forms")
	}
	if !strings.Contains(body, `data-signed-in="false"`) {
		t.Error("home should report signed out")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

func TestSignInFailureThenSuccess(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.post(t, "/sign-in", credentials(testEmail, "wrong"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "Invalid login credentials") {
		t.Error("error message should be shown verbatim")
	}
	if !strings.Contains(body, `hx-get="/sign-in/banner"`) {
		t.Error("banner should poll for its clear")
	}
	if !strings.Contains(body, `value="`+testEmail+`"`) {
		t.Error("email should be kept after a failure")
	}

	resp, _ = app.post(t, "/sign-in", credentials(testEmail, testPassword))
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}

	_, body = app.get(t, "/")
	if !strings.Contains(body, "Welcome, "+testEmail+"!") {
		t.Error("home should greet the signed-in user")
	}
}

func TestBannerClearsAfterTimer(t *testing.T) {
	app := newTestApp(t)

	app.post(t, "/sign-in", credentials(testEmail, "wrong"))

	_, body := app.get(t, "/sign-in/banner")
	if !strings.Contains(body, "Invalid login credentials") {
		t.Fatalf("banner should still show the error, got %q", body)
	}

	app.clock.fire()

	_, body = app.get(t, "/sign-in/banner")
	if strings.Contains(body, "Invalid login credentials") || strings.Contains(body, "hx-get") {
		t.Errorf("banner should be empty after the clear, got %q", body)
	}
}

func TestSignUpWithoutSessionShowsFallback(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.post(t, "/sign-up", credentials("pending@example.com", "pw"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "An unexpected error occurred. Please try signing in.") {
		t.Error("pending sign-up should show the fallback message")
	}
}

func TestSignUpWithSessionNavigatesHome(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.post(t, "/sign-up", credentials("new@example.com", "pw"))
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("got %d %q, want 303 to /", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestTogglePasswordKeepsInput(t *testing.T) {
	app := newTestApp(t)

	form := url.Values{"email": {testEmail}, "password": {"typed"}, "action": {"toggle-password"}}
	_, body := app.post(t, "/sign-in", form)
	if !strings.Contains(body, `type="text" value="typed"`) {
		t.Error("toggle should reveal the typed password")
	}

	form.Set("show_password", "true")
	_, body = app.post(t, "/sign-in", form)
	if !strings.Contains(body, `type="password" value="typed"`) {
		t.Error("second toggle should hide the password again")
	}
}

func TestRateLimitOnlyCountsIdentityCalls(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerWindow = 1
		cfg.RateLimit.WindowDuration = time.Hour
		cfg.RateLimit.Burst = 2
	})

	toggle := url.Values{"email": {testEmail}, "password": {"typed"}, "action": {"toggle-password"}}
	for i := 0; i < 5; i++ {
		if resp, _ := app.post(t, "/sign-in", toggle); resp.StatusCode != http.StatusOK {
			t.Fatalf("toggle %d status = %d, want 200", i, resp.StatusCode)
		}
		if resp, _ := app.post(t, "/sign-out", nil); resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("sign-out %d status = %d, want 303", i, resp.StatusCode)
		}
		if resp, _ := app.get(t, "/sign-in"); resp.StatusCode != http.StatusOK {
			t.Fatalf("page load %d status = %d, want 200", i, resp.StatusCode)
		}
	}

	for i := 0; i < 2; i++ {
		if resp, _ := app.post(t, "/sign-in", credentials(testEmail, "wrong")); resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %d status = %d, want 200", i, resp.StatusCode)
		}
	}
	resp, _ := app.post(t, "/sign-in", credentials(testEmail, "wrong"))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("over-burst submit status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "3600" {
		t.Errorf("Retry-After = %q, want 3600", resp.Header.Get("Retry-After"))
	}
}

func TestOAuthRoundTrip(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.post(t, "/auth/oauth/google", url.Values{"intent": {"sign-in"}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("bad Location: %v", err)
	}
	if loc.Path != "/auth/v1/authorize" || loc.Query().Get("provider") != "google" {
		t.Errorf("unexpected authorize URL %s", loc)
	}
	if loc.Query().Get("code_challenge") == "" {
		t.Error("authorize URL should carry a PKCE challenge")
	}

	resp, _ = app.get(t, "/auth/callback?code=abc")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("callback got %d %q, want 303 to /", resp.StatusCode, resp.Header.Get("Location"))
	}

	app.identity.mu.Lock()
	verifiers := app.identity.verifiers
	app.identity.mu.Unlock()
	if len(verifiers) != 1 || verifiers[0] == "" {
		t.Errorf("exchange should send the stored verifier, got %v", verifiers)
	}

	_, body := app.get(t, "/")
	if !strings.Contains(body, "Welcome, oauth@example.com!") {
		t.Error("home should greet the OAuth user")
	}
}

func TestOAuthDisabledProviderShowsError(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.post(t, "/auth/oauth/apple", url.Values{"intent": {"sign-up"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "Unsupported provider") {
		t.Error("disabled provider error should be shown")
	}
	if !strings.Contains(body, "Create your account") {
		t.Error("error should render on the form that started the flow")
	}
}

func TestOAuthUnknownProvider(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.post(t, "/auth/oauth/myspace", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCallbackErrorReturnsToSignIn(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.get(t, "/auth/callback?error=access_denied&error_description=User+denied+access")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/sign-in" {
		t.Fatalf("got %d %q, want 303 to /sign-in", resp.StatusCode, resp.Header.Get("Location"))
	}

	_, body := app.get(t, "/sign-in")
	if !strings.Contains(body, "User denied access") {
		t.Error("callback error should appear in the sign-in banner")
	}
}

func TestCallbackWithoutVerifier(t *testing.T) {
	app := newTestApp(t)

	resp, _ := app.get(t, "/auth/callback?code=abc")
	if resp.Header.Get("Location") != "/sign-in" {
		t.Errorf("Location = %q, want /sign-in", resp.Header.Get("Location"))
	}
}

func TestSignOut(t *testing.T) {
	app := newTestApp(t)

	app.post(t, "/sign-in", credentials(testEmail, testPassword))

	resp, _ := app.post(t, "/sign-out", nil)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("got %d %q, want 303 to /", resp.StatusCode, resp.Header.Get("Location"))
	}

	_, body := app.get(t, "/")
	if !strings.Contains(body, `data-signed-in="false"`) {
		t.Error("home should be signed out")
	}

	app.identity.mu.Lock()
	logouts := app.identity.logouts
	app.identity.mu.Unlock()
	if logouts != 1 {
		t.Errorf("logouts = %d, want 1", logouts)
	}
}

func TestEventsStreamFollowsSession(t *testing.T) {
	app := newTestApp(t)

	// establish the browser cookie first
	app.get(t, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.server.URL+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := app.client.Do(req)
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := bufio.NewReader(resp.Body)
	next := func() string {
		t.Helper()
		for {
			line, err := events.ReadString('\n')
			if err != nil {
				t.Fatalf("stream ended: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	if got := next(); got != `{"signed_in":false}` {
		t.Errorf("initial event = %s", got)
	}

	app.post(t, "/sign-in", credentials(testEmail, testPassword))

	if got := next(); got != `{"signed_in":true,"email":"`+testEmail+`"}` {
		t.Errorf("sign-in event = %s", got)
	}
}

func TestLegacyPathsRedirect(t *testing.T) {
	app := newTestApp(t)

	for old, want := range map[string]string{"/signin": "/sign-in", "/signup": "/sign-up"} {
		resp, _ := app.get(t, old)
		if resp.StatusCode != http.StatusMovedPermanently {
			t.Errorf("%s status = %d, want 301", old, resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != want {
			t.Errorf("%s Location = %q, want %q", old, loc, want)
		}
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("healthz = %d %s", resp.StatusCode, body)
	}

	app.post(t, "/sign-in", credentials(testEmail, "wrong"))

	_, body = app.get(t, "/metrics")
	if !strings.Contains(body, `supalogin_auth_attempts_total{intent="sign-in",outcome="failed"} 1`) {
		t.Errorf("metrics should count the failed attempt:\n%s", body)
	}
}

func TestNotFound(t *testing.T) {
	app := newTestApp(t)

	resp, body := app.get(t, "/nowhere")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(body, "Page not found") {
		t.Error("404 page not rendered")
	}
}
