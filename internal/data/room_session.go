package data

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RoomSession is the short-lived capability authorizing room-scoped calls
// for one (user, room) pair. The row id is the capability token the client
// presents in the X-Room-Session header.
type RoomSession struct {
	ID            string    `json:"sessionId"`
	RoomID        string    `json:"roomId"`
	RoomToken     string    `json:"token"`
	UserID        string    `json:"userId"`
	ParticipantID string    `json:"participantId"`
	IsHost        bool      `json:"isHost"`
	ExpiryTime    time.Time `json:"expiresAt"`
}

// RoomSessionStore is what the room-session guard and the socket layer
// program against; tests stub it.
type RoomSessionStore interface {
	Insert(ctx context.Context, rs *RoomSession) error
	Get(ctx context.Context, id string) (*RoomSession, error)
	GetActiveForUser(ctx context.Context, roomToken, userID string) (*RoomSession, error)
	Extend(ctx context.Context, rs *RoomSession) error
	Delete(ctx context.Context, id string) error
}

type RoomSessionModel struct {
	Pool *pgxpool.Pool
}

func (m *RoomSessionModel) Insert(ctx context.Context, rs *RoomSession) error {
	stmt := `INSERT INTO room_sessions(room_id, room_token, user_id, participant_id, is_host, expires_at)
	         VALUES($1, $2, $3, $4, $5, $6) RETURNING id`
	rs.ExpiryTime = time.Now().Add(RoomSessionRenewal)
	args := []any{rs.RoomID, rs.RoomToken, rs.UserID, rs.ParticipantID, rs.IsHost, rs.ExpiryTime}
	return m.Pool.QueryRow(ctx, stmt, args...).Scan(&rs.ID)
}

func (m *RoomSessionModel) Get(ctx context.Context, id string) (*RoomSession, error) {
	stmt := `SELECT id, room_id, room_token, user_id, participant_id, is_host, expires_at
	         FROM room_sessions WHERE id = $1`

	var rs RoomSession
	err := m.Pool.QueryRow(ctx, stmt, id).Scan(
		&rs.ID, &rs.RoomID, &rs.RoomToken, &rs.UserID, &rs.ParticipantID, &rs.IsHost, &rs.ExpiryTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rs, nil
}

// GetActiveForUser resolves the caller's live room session for a room
// token. The socket layer uses it to re-derive the host claim instead of
// trusting the join-room payload.
func (m *RoomSessionModel) GetActiveForUser(ctx context.Context, roomToken, userID string) (*RoomSession, error) {
	stmt := `SELECT id, room_id, room_token, user_id, participant_id, is_host, expires_at
	         FROM room_sessions
	         WHERE room_token = $1 AND user_id = $2 AND expires_at > $3`

	var rs RoomSession
	err := m.Pool.QueryRow(ctx, stmt, roomToken, userID, time.Now()).Scan(
		&rs.ID, &rs.RoomID, &rs.RoomToken, &rs.UserID, &rs.ParticipantID, &rs.IsHost, &rs.ExpiryTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rs, nil
}

// Extend slides the expiry forward by the renewal window, keeping it
// monotonic non-decreasing. The stored value is written back into rs so
// callers echo the slid expiry, not the one they read.
func (m *RoomSessionModel) Extend(ctx context.Context, rs *RoomSession) error {
	stmt := `UPDATE room_sessions SET expires_at = GREATEST(expires_at, $2)
	         WHERE id = $1 RETURNING expires_at`
	return m.Pool.QueryRow(ctx, stmt, rs.ID, time.Now().Add(RoomSessionRenewal)).Scan(&rs.ExpiryTime)
}

func (m *RoomSessionModel) Delete(ctx context.Context, id string) error {
	stmt := `DELETE FROM room_sessions WHERE id = $1`
	_, err := m.Pool.Exec(ctx, stmt, id)
	return err
}
