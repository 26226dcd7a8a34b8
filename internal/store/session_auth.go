package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/stationops/skillcheck/internal/model"
)

const authSessionTTL = 24 * time.Hour

// CreateAuthSession issues a new API token for a user.
func (c *conn) CreateAuthSession(ctx context.Context, userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = c.exec(ctx,
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(authSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthSession returns the session for token. Expired sessions are removed
// and reported as ErrNotFound.
func (c *conn) GetAuthSession(ctx context.Context, token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := c.queryRow(ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, notFound(err, "session")
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = c.DeleteAuthSession(ctx, token)
		return nil, errors.Join(ErrNotFound, errors.New("session expired"))
	}
	return &sess, nil
}

// DeleteAuthSession revokes a token.
func (c *conn) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := c.exec(ctx, `DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired tokens.
func (c *conn) CleanupExpiredSessions(ctx context.Context) error {
	_, err := c.exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now().UTC())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
