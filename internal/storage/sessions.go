package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shindakun/supalogin/internal/models"
)

// ErrSessionNotFound is returned when a browser has no stored session
var ErrSessionNotFound = errors.New("session not found")

// SaveSession inserts or replaces the session stored for a browser
func SaveSession(db *sql.DB, rec *models.SessionRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid session record: %w", err)
	}

	query := `
		INSERT INTO browser_sessions (browser_id, user_id, email, access_token, refresh_token, token_type, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(browser_id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	var expiresAt sql.NullTime
	if !rec.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}

	_, err := db.Exec(query,
		rec.BrowserID,
		rec.UserID,
		rec.Email,
		rec.AccessToken,
		rec.RefreshToken,
		rec.TokenType,
		expiresAt,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the session stored for a browser
func GetSession(db *sql.DB, browserID string) (*models.SessionRecord, error) {
	query := `
		SELECT browser_id, user_id, email, access_token, refresh_token, token_type, expires_at, created_at, updated_at
		FROM browser_sessions
		WHERE browser_id = ?
	`

	var rec models.SessionRecord
	var expiresAt sql.NullTime
	err := db.QueryRow(query, browserID).Scan(
		&rec.BrowserID,
		&rec.UserID,
		&rec.Email,
		&rec.AccessToken,
		&rec.RefreshToken,
		&rec.TokenType,
		&expiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	return &rec, nil
}

// DeleteSession removes the session stored for a browser. Deleting a
// missing row is not an error.
func DeleteSession(db *sql.DB, browserID string) error {
	if _, err := db.Exec(`DELETE FROM browser_sessions WHERE browser_id = ?`, browserID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeStaleSessions deletes sessions not touched since before cutoff and
// returns how many were removed
func PurgeStaleSessions(db *sql.DB, cutoff time.Time) (int64, error) {
	result, err := db.Exec(`DELETE FROM browser_sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
