package data

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JoinRequest is a guest's pending knock on a room. At most one unresolved
// (is_joined = false) request exists per (user, room); repeat knocks are
// no-ops. Accepting flips is_joined, rejecting deletes the row.
type JoinRequest struct {
	ID       string `json:"id"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsJoined bool   `json:"isJoined"`
	Name     string `json:"name,omitempty"`
}

type JoinRequestModel struct {
	Pool *pgxpool.Pool
}

// Create files a pending request unless one is already unresolved for the
// same (user, room). Uniqueness is enforced by the partial unique index on
// (room_id, user_id) WHERE is_joined = false, so concurrent knocks collapse
// into one row; the losing insert hits the conflict and returns nothing.
// Returns (nil, nil) on the duplicate-knock no-op.
func (m *JoinRequestModel) Create(ctx context.Context, roomID, userID string) (*JoinRequest, error) {
	stmt := `INSERT INTO join_requests(room_id, user_id)
	         VALUES($1, $2)
	         ON CONFLICT (room_id, user_id) WHERE is_joined = false DO NOTHING
	         RETURNING id`

	jr := &JoinRequest{RoomID: roomID, UserID: userID}
	err := m.Pool.QueryRow(ctx, stmt, roomID, userID).Scan(&jr.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return jr, nil
}

// Resolve marks a pending request joined. The WHERE clause is the
// compare-and-set that makes a racing double accept admit exactly once:
// only the caller that observes is_joined = false gets the row back.
func (m *JoinRequestModel) Resolve(ctx context.Context, id, roomID string) (*JoinRequest, error) {
	stmt := `UPDATE join_requests SET is_joined = true
	         WHERE id = $1 AND room_id = $2 AND is_joined = false
	         RETURNING id, room_id, user_id, is_joined`

	var jr JoinRequest
	err := m.Pool.QueryRow(ctx, stmt, id, roomID).Scan(&jr.ID, &jr.RoomID, &jr.UserID, &jr.IsJoined)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &jr, nil
}

func (m *JoinRequestModel) Delete(ctx context.Context, id, roomID string) (*JoinRequest, error) {
	stmt := `DELETE FROM join_requests WHERE id = $1 AND room_id = $2
	         RETURNING id, room_id, user_id, is_joined`

	var jr JoinRequest
	err := m.Pool.QueryRow(ctx, stmt, id, roomID).Scan(&jr.ID, &jr.RoomID, &jr.UserID, &jr.IsJoined)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &jr, nil
}

// ListPending returns unresolved requests for a room with the requester's
// display name, paginated by skip/limit.
func (m *JoinRequestModel) ListPending(ctx context.Context, roomID string, skip, limit int) ([]*JoinRequest, error) {
	stmt := `SELECT jr.id, jr.room_id, jr.user_id, u.first_name || ' ' || u.last_name
	         FROM join_requests jr
	         JOIN users u ON u.id = jr.user_id
	         WHERE jr.room_id = $1 AND jr.is_joined = false
	         ORDER BY jr.id
	         OFFSET $2 LIMIT $3`

	rows, err := m.Pool.Query(ctx, stmt, roomID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []*JoinRequest{}
	for rows.Next() {
		var jr JoinRequest
		err := rows.Scan(&jr.ID, &jr.RoomID, &jr.UserID, &jr.Name)
		if err != nil {
			return nil, err
		}
		requests = append(requests, &jr)
	}
	return requests, rows.Err()
}
