package models

import (
	"fmt"
	"time"

	"github.com/shindakun/supalogin/internal/identity"
)

// SessionRecord is a browser's identity session as persisted in the database
type SessionRecord struct {
	BrowserID    string    `json:"browser_id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"` // Never serialize to JSON
	RefreshToken string    `json:"-"` // Never serialize to JSON
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionState represents the current state of a stored session
type SessionState string

const (
	SessionStateActive  SessionState = "active"
	SessionStateExpired SessionState = "expired"
)

// NewSessionRecord converts an identity session for storage
func NewSessionRecord(browserID string, s *identity.Session) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		BrowserID:    browserID,
		UserID:       s.User.ID,
		Email:        s.User.Email,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Validate checks that the record can be stored
func (r *SessionRecord) Validate() error {
	if r.BrowserID == "" {
		return fmt.Errorf("browser id is required")
	}
	if r.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	return nil
}

// Identity converts the record back into the identity session it came from
func (r *SessionRecord) Identity() *identity.Session {
	return &identity.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    r.ExpiresAt,
		User:         identity.User{ID: r.UserID, Email: r.Email},
	}
}

// State returns the current state of the session
func (r *SessionRecord) State() SessionState {
	if !r.ExpiresAt.IsZero() && !time.Now().Before(r.ExpiresAt) {
		return SessionStateExpired
	}
	return SessionStateActive
}

// IsExpired returns true if the access token has expired. An expired record
// with a refresh token can still be renewed.
func (r *SessionRecord) IsExpired() bool {
	return r.State() == SessionStateExpired
}
