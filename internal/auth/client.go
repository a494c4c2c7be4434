package auth

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/shindakun/supalogin/internal/identity"
	"github.com/shindakun/supalogin/internal/session"
)

// tokenRefreshMargin refreshes an access token this long before it expires
const tokenRefreshMargin = 30 * time.Second

// Service is the identity service surface a Client needs
type Service interface {
	SignInWithPassword(ctx context.Context, creds identity.Credentials) (*identity.Session, error)
	SignUp(ctx context.Context, creds identity.Credentials) (*identity.Session, *identity.User, error)
	AuthorizeURL(ctx context.Context, provider identity.Provider, redirectTo, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*identity.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Client is the identity client for one browser. It keeps that browser's
// session in a Holder and reports every change to its subscribers.
type Client struct {
	svc         Service
	holder      *session.Holder
	callbackURL string
	logger      *log.Logger
	now         func() time.Time

	mu       sync.Mutex
	verifier string
}

// NewClient creates a client bound to holder. callbackURL is where the
// identity service sends the browser after an OAuth provider.
func NewClient(svc Service, holder *session.Holder, callbackURL string, logger *log.Logger) *Client {
	return &Client{
		svc:         svc,
		holder:      holder,
		callbackURL: callbackURL,
		logger:      logger,
		now:         time.Now,
	}
}

// SignInWithPassword signs in with email and password
func (c *Client) SignInWithPassword(ctx context.Context, creds identity.Credentials) error {
	sess, err := c.svc.SignInWithPassword(ctx, creds)
	if err != nil {
		return err
	}
	c.holder.Set(session.EventSignedIn, sess)
	return nil
}

// SignUp creates an account. The returned session is nil when the service
// requires email confirmation first.
func (c *Client) SignUp(ctx context.Context, creds identity.Credentials) (*identity.Session, error) {
	sess, _, err := c.svc.SignUp(ctx, creds)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		c.holder.Set(session.EventSignedIn, sess)
	}
	return sess, nil
}

// SignInWithOAuth returns the provider redirect for a PKCE flow. The code
// verifier stays with this browser until the callback exchanges it.
func (c *Client) SignInWithOAuth(ctx context.Context, provider identity.Provider) (string, error) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	redirectURL, err := c.svc.AuthorizeURL(ctx, provider, c.callbackURL, challenge)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.verifier = verifier
	c.mu.Unlock()

	return redirectURL, nil
}

// ExchangeCodeForSession completes an OAuth flow started by SignInWithOAuth
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) error {
	c.mu.Lock()
	verifier := c.verifier
	c.verifier = ""
	c.mu.Unlock()

	if verifier == "" {
		return &identity.AuthError{
			Status:  http.StatusBadRequest,
			Code:    "pkce_verifier_missing",
			Message: "Sign-in was started in another browser or has expired. Please try again.",
		}
	}

	sess, err := c.svc.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return err
	}
	c.holder.Set(session.EventSignedIn, sess)
	return nil
}

// SignOut revokes the session and drops it locally. A failed revoke is
// logged; the local session is dropped regardless.
func (c *Client) SignOut(ctx context.Context) {
	current := c.holder.Current()
	if current == nil {
		return
	}
	if err := c.svc.SignOut(ctx, current.AccessToken); err != nil {
		c.logger.Printf("sign out revoke failed user=%s: %v", current.User.ID, err)
	}
	c.holder.Clear()
}

// OnAuthStateChange subscribes cb to session changes
func (c *Client) OnAuthStateChange(cb session.Callback) *session.Subscription {
	return c.holder.Subscribe(cb)
}

// Session returns the current session, refreshing it first when the access
// token is about to expire. A session that cannot be refreshed is dropped.
func (c *Client) Session(ctx context.Context) (*identity.Session, error) {
	current := c.holder.Current()
	if current == nil || !current.IsExpired(c.now().Add(tokenRefreshMargin)) {
		return current, nil
	}

	if current.RefreshToken == "" {
		c.holder.Clear()
		return nil, nil
	}

	refreshed, err := c.svc.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		c.holder.Clear()
		return nil, err
	}
	c.holder.Set(session.EventTokenRefreshed, refreshed)
	return refreshed, nil
}
