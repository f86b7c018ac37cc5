package data

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Room is one meeting instance. The token is the opaque id every broadcast
// scope and media-state entry hangs off. Host designation is fixed at
// creation and never reassigned.
type Room struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	HostID    string    `json:"hostId"`
	CreatedAt time.Time `json:"createdAt"`
}

type RoomModel struct {
	Pool *pgxpool.Pool
}

func (m *RoomModel) Insert(ctx context.Context, hostID string) (*Room, error) {
	stmt := `INSERT INTO rooms(token, host_id) VALUES($1, $2) RETURNING id, created_at`

	r := &Room{
		Token:  uuid.NewString(),
		HostID: hostID,
	}
	err := m.Pool.QueryRow(ctx, stmt, r.Token, r.HostID).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (m *RoomModel) GetByToken(ctx context.Context, token string) (*Room, error) {
	stmt := `SELECT id, token, host_id, created_at FROM rooms WHERE token = $1`

	var r Room
	err := m.Pool.QueryRow(ctx, stmt, token).Scan(&r.ID, &r.Token, &r.HostID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
