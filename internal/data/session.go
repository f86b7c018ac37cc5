package data

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session is the long-lived login session referenced by the JWT a client
// presents on every request and at the socket handshake.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ExpiryTime time.Time `json:"expiryTime"`
}

type SessionModel struct {
	Pool *pgxpool.Pool
}

func (m *SessionModel) Insert(ctx context.Context, userID string) (*Session, error) {
	stmt := `INSERT INTO sessions(user_id, expires_at) VALUES($1, $2) RETURNING id`

	s := &Session{
		UserID:     userID,
		ExpiryTime: time.Now().Add(SessionTTL),
	}
	err := m.Pool.QueryRow(ctx, stmt, s.UserID, s.ExpiryTime).Scan(&s.ID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m *SessionModel) Get(ctx context.Context, id string) (*Session, error) {
	stmt := `SELECT id, user_id, expires_at FROM sessions WHERE id = $1`

	var s Session
	err := m.Pool.QueryRow(ctx, stmt, id).Scan(&s.ID, &s.UserID, &s.ExpiryTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Extend pushes the session's expiry out by the renewal window. Expiry is
// monotonic: a slide never brings it closer.
func (m *SessionModel) Extend(ctx context.Context, id string) error {
	stmt := `UPDATE sessions SET expires_at = GREATEST(expires_at, $2) WHERE id = $1`
	_, err := m.Pool.Exec(ctx, stmt, id, time.Now().Add(SessionRenewal))
	return err
}

func (m *SessionModel) Delete(ctx context.Context, id string) error {
	stmt := `DELETE FROM sessions WHERE id = $1`
	_, err := m.Pool.Exec(ctx, stmt, id)
	return err
}
