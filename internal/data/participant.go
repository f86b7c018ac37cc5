package data

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Participant ties a user to a room. Rows are never hard-deleted: leaving
// sets left_at, so the row doubles as the attendance record.
type Participant struct {
	ID            string     `json:"id"`
	RoomID        string     `json:"roomId"`
	UserID        string     `json:"userId"`
	IsHost        bool       `json:"isHost"`
	JoinedAt      time.Time  `json:"joinedAt"`
	LeftAt        *time.Time `json:"leftAt,omitempty"`
	Mic           bool       `json:"mic"`
	Camera        bool       `json:"camera"`
	JoinRequestID *string    `json:"joinRequestId,omitempty"`
	Name          string     `json:"name,omitempty"`
}

type ParticipantModel struct {
	Pool *pgxpool.Pool
}

func (m *ParticipantModel) Insert(ctx context.Context, p *Participant) error {
	stmt := `INSERT INTO participants(room_id, user_id, is_host, joined_at, mic, camera, join_request_id)
	         VALUES($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	p.JoinedAt = time.Now()
	p.Mic = true
	p.Camera = true
	args := []any{p.RoomID, p.UserID, p.IsHost, p.JoinedAt, p.Mic, p.Camera, p.JoinRequestID}
	return m.Pool.QueryRow(ctx, stmt, args...).Scan(&p.ID)
}

func (m *ParticipantModel) MarkLeft(ctx context.Context, id string) error {
	stmt := `UPDATE participants SET left_at = $2 WHERE id = $1 AND left_at IS NULL`
	_, err := m.Pool.Exec(ctx, stmt, id, time.Now())
	return err
}

func (m *ParticipantModel) SetControls(ctx context.Context, id string, mic, camera bool) error {
	stmt := `UPDATE participants SET mic = $2, camera = $3 WHERE id = $1 AND left_at IS NULL`
	tag, err := m.Pool.Exec(ctx, stmt, id, mic, camera)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActive returns the room's present participants joined with the user's
// display name, paginated by skip/limit.
func (m *ParticipantModel) ListActive(ctx context.Context, roomID string, skip, limit int) ([]*Participant, error) {
	stmt := `SELECT p.id, p.room_id, p.user_id, p.is_host, p.joined_at, p.mic, p.camera,
	                u.first_name || ' ' || u.last_name
	         FROM participants p
	         JOIN users u ON u.id = p.user_id
	         WHERE p.room_id = $1 AND p.left_at IS NULL
	         ORDER BY p.joined_at
	         OFFSET $2 LIMIT $3`

	rows, err := m.Pool.Query(ctx, stmt, roomID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := []*Participant{}
	for rows.Next() {
		var p Participant
		err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.IsHost, &p.JoinedAt, &p.Mic, &p.Camera, &p.Name)
		if err != nil {
			return nil, err
		}
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}
