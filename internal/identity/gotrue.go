package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

const authPath = "/auth/v1"

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

// ServiceOptions configures a GoTrue client
type ServiceOptions struct {
	// BaseURL is the project URL, e.g. https://xyzcompany.supabase.co
	BaseURL string
	// AnonKey is the public API key sent as apikey and bearer token
	AnonKey string
	// Timeout bounds each request; zero means 10 seconds
	Timeout time.Duration
	// HTTPClient overrides the pooled client (tests)
	HTTPClient *http.Client
}

// Service talks to the GoTrue REST API. It is stateless: tokens are passed
// in and returned, never retained.
type Service struct {
	baseURL *url.URL
	anonKey string
	client  *http.Client
	now     func() time.Time
}

// NewService creates a GoTrue client
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("identity base url is required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid identity base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("identity base url must be http or https, got %q", u.Scheme)
	}

	client := opts.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = opts.Timeout
		if client.Timeout == 0 {
			client.Timeout = 10 * time.Second
		}
	}

	return &Service{
		baseURL: u,
		anonKey: opts.AnonKey,
		client:  client,
		now:     time.Now,
	}, nil
}

// tokenResponse is the session shape returned by /token and /signup
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`

	// signup without auto-confirm returns the bare user at top level
	ID    string `json:"id"`
	Email string `json:"email"`
}

// errorResponse covers the error shapes GoTrue has used over time
type errorResponse struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// SignInWithPassword exchanges credentials for a session
func (s *Service) SignInWithPassword(ctx context.Context, creds Credentials) (*Session, error) {
	var resp tokenResponse
	if err := s.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "", creds, &resp); err != nil {
		return nil, err
	}
	return s.sessionFrom(resp)
}

// SignUp creates an account. A nil session with a nil error means the
// service is waiting for email confirmation.
func (s *Service) SignUp(ctx context.Context, creds Credentials) (*Session, *User, error) {
	var resp tokenResponse
	if err := s.do(ctx, http.MethodPost, "/signup", nil, "", creds, &resp); err != nil {
		return nil, nil, err
	}
	if resp.AccessToken == "" {
		user := &User{ID: resp.ID, Email: resp.Email}
		if resp.User != nil {
			user = resp.User
		}
		return nil, user, nil
	}
	sess, err := s.sessionFrom(resp)
	if err != nil {
		return nil, nil, err
	}
	return sess, &sess.User, nil
}

// RefreshSession trades a refresh token for a new session
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp tokenResponse
	if err := s.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "", body, &resp); err != nil {
		return nil, err
	}
	return s.sessionFrom(resp)
}

// ExchangeCode completes a PKCE OAuth flow
func (s *Service) ExchangeCode(ctx context.Context, code, verifier string) (*Session, error) {
	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	var resp tokenResponse
	if err := s.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}}, "", body, &resp); err != nil {
		return nil, err
	}
	return s.sessionFrom(resp)
}

// SignOut revokes the session behind accessToken
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	return s.do(ctx, http.MethodPost, "/logout", nil, accessToken, nil, nil)
}

// Settings is the public part of the service configuration
type Settings struct {
	External      map[string]bool `json:"external"`
	DisableSignup bool            `json:"disable_signup"`
	AutoConfirm   bool            `json:"mailer_autoconfirm"`
}

// Settings fetches the public service settings
func (s *Service) Settings(ctx context.Context) (*Settings, error) {
	var settings Settings
	if err := s.do(ctx, http.MethodGet, "/settings", nil, "", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// AuthorizeURL builds the redirect that starts an OAuth flow. It checks the
// provider is enabled first, which is the only failure reported before the
// browser leaves.
func (s *Service) AuthorizeURL(ctx context.Context, provider Provider, redirectTo, codeChallenge string) (string, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return "", err
	}
	if !settings.External[string(provider)] {
		return "", &AuthError{
			Status:  http.StatusBadRequest,
			Code:    "validation_failed",
			Message: "Unsupported provider: provider is not enabled",
		}
	}

	conf := oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: s.endpoint("/authorize").String()},
	}
	params := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("provider", string(provider))}
	if redirectTo != "" {
		params = append(params, oauth2.SetAuthURLParam("redirect_to", redirectTo))
	}
	if codeChallenge != "" {
		// GoTrue spells the method in lower case
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "s256"),
		)
	}
	return conf.AuthCodeURL("", params...), nil
}

func (s *Service) endpoint(path string) *url.URL {
	u := *s.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + authPath + path
	return &u
}

func (s *Service) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	u := s.endpoint(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.anonKey != "" {
		req.Header.Set("apikey", s.anonKey)
	}
	if bearer == "" {
		bearer = s.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	authErr := &AuthError{Status: resp.StatusCode}
	var er errorResponse
	if json.Unmarshal(data, &er) == nil {
		authErr.Code = er.ErrorCode
		if authErr.Code == "" && er.Error != "" && er.ErrorDescription != "" {
			authErr.Code = er.Error
		}
		for _, m := range []string{er.Msg, er.Message, er.ErrorDescription, er.Error} {
			if m != "" {
				authErr.Message = m
				break
			}
		}
	}
	if authErr.Message == "" {
		authErr.Message = http.StatusText(resp.StatusCode)
	}
	return authErr
}

// sessionClaims are the access token claims used when the response body
// omits expiry or user details
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Service) sessionFrom(resp tokenResponse) (*Session, error) {
	if resp.AccessToken == "" {
		return nil, &AuthError{Status: http.StatusBadGateway, Message: "identity service returned no access token"}
	}

	sess := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	if resp.User != nil {
		sess.User = *resp.User
	}

	switch {
	case resp.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		sess.ExpiresAt = s.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	if sess.ExpiresAt.IsZero() || sess.User.ID == "" || sess.User.Email == "" {
		// The token was issued by the service it came from; it is only read here.
		var claims sessionClaims
		if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, &claims); err == nil {
			if sess.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
				sess.ExpiresAt = claims.ExpiresAt.Time
			}
			if sess.User.ID == "" {
				sess.User.ID = claims.Subject
			}
			if sess.User.Email == "" {
				sess.User.Email = claims.Email
			}
		}
	}

	return sess, nil
}
