package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// newTestService starts a fake GoTrue server with the given handler
func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewService(ServiceOptions{BaseURL: srv.URL, AnonKey: "anon-key"})
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	return svc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewServiceValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
	}{
		{"empty", ""},
		{"bad scheme", "ftp://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(ServiceOptions{BaseURL: tt.baseURL}); err == nil {
				t.Errorf("NewService(%q) expected error", tt.baseURL)
			}
		})
	}
}

func TestSignInWithPassword(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey header = %q", r.Header.Get("apikey"))
		}
		var creds Credentials
		json.NewDecoder(r.Body).Decode(&creds)
		if creds.Email != "a@example.com" || creds.Password != "hunter22" {
			t.Errorf("unexpected credentials %+v", creds)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "bearer",
			"expires_at":    1893456000,
			"user":          map[string]string{"id": "u1", "email": "a@example.com"},
		})
	})

	sess, err := svc.SignInWithPassword(context.Background(), Credentials{Email: "a@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("SignInWithPassword() failed: %v", err)
	}
	if sess.AccessToken != "access" || sess.RefreshToken != "refresh" {
		t.Errorf("unexpected tokens %+v", sess)
	}
	if sess.User.Email != "a@example.com" {
		t.Errorf("User.Email = %q", sess.User.Email)
	}
	if !sess.ExpiresAt.Equal(time.Unix(1893456000, 0)) {
		t.Errorf("ExpiresAt = %v", sess.ExpiresAt)
	}
}

func TestErrorMessageShapes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"msg", 400, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`, "Invalid login credentials"},
		{"oauth style", 400, `{"error":"invalid_grant","error_description":"Email not confirmed"}`, "Email not confirmed"},
		{"message", 422, `{"message":"Password should be at least 6 characters"}`, "Password should be at least 6 characters"},
		{"not json", 503, `upstream down`, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := svc.SignInWithPassword(context.Background(), Credentials{Email: "a@example.com", Password: "x"})
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected *AuthError, got %T (%v)", err, err)
			}
			if authErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", authErr.Status, tt.status)
			}
			if Message(err) != tt.want {
				t.Errorf("Message() = %q, want %q", Message(err), tt.want)
			}
		})
	}
}

func TestSignUpPendingConfirmation(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "u2", "email": "b@example.com"})
	})

	sess, user, err := svc.SignUp(context.Background(), Credentials{Email: "b@example.com", Password: "pw123456"})
	if err != nil {
		t.Fatalf("SignUp() failed: %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
	if user == nil || user.ID != "u2" {
		t.Errorf("unexpected user %+v", user)
	}
}

func TestSessionFromTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u3",
		"email": "c@example.com",
		"exp":   exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  signed,
			"refresh_token": "r",
		})
	})

	sess, err := svc.RefreshSession(context.Background(), "old")
	if err != nil {
		t.Fatalf("RefreshSession() failed: %v", err)
	}
	if sess.User.ID != "u3" || sess.User.Email != "c@example.com" {
		t.Errorf("claims not applied: %+v", sess.User)
	}
	if !sess.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", sess.ExpiresAt, exp)
	}
}

func TestAuthorizeURL(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/settings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"external": map[string]bool{"google": true, "apple": false},
		})
	})

	t.Run("enabled provider", func(t *testing.T) {
		raw, err := svc.AuthorizeURL(context.Background(), ProviderGoogle, "http://localhost:8080/auth/callback", "challenge")
		if err != nil {
			t.Fatalf("AuthorizeURL() failed: %v", err)
		}
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("invalid url %q: %v", raw, err)
		}
		if u.Path != "/auth/v1/authorize" {
			t.Errorf("path = %q", u.Path)
		}
		q := u.Query()
		if q.Get("provider") != "google" || q.Get("code_challenge") != "challenge" || q.Get("code_challenge_method") != "s256" {
			t.Errorf("unexpected query %v", q)
		}
		if q.Get("redirect_to") != "http://localhost:8080/auth/callback" {
			t.Errorf("redirect_to = %q", q.Get("redirect_to"))
		}
		if q.Get("response_type") != "code" || q.Has("state") {
			t.Errorf("expected a code flow without state, got %v", q)
		}
	})

	t.Run("disabled provider", func(t *testing.T) {
		_, err := svc.AuthorizeURL(context.Background(), ProviderApple, "", "")
		if Message(err) != "Unsupported provider: provider is not enabled" {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestSignOutUsesAccessToken(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/logout" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := svc.SignOut(context.Background(), "user-token"); err != nil {
		t.Errorf("SignOut() failed: %v", err)
	}
}

func TestParseProvider(t *testing.T) {
	if p, err := ParseProvider(" Google "); err != nil || p != ProviderGoogle {
		t.Errorf("ParseProvider(Google) = %q, %v", p, err)
	}
	if _, err := ParseProvider("github"); err == nil {
		t.Error("expected error for github")
	}
}
