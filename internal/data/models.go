package data

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Expiry windows. Account sessions live for a day and slide by an hour on
// every authorized call; room sessions slide by fifteen minutes.
const (
	SessionTTL         = 24 * time.Hour
	SessionRenewal     = time.Hour
	RoomSessionRenewal = 15 * time.Minute
	OtpTTL             = 15 * time.Minute
)

type Models struct {
	Users        UserModel
	Sessions     SessionModel
	Otps         OtpModel
	Rooms        RoomModel
	Participants ParticipantModel
	JoinRequests JoinRequestModel
	RoomSessions RoomSessionStore
}

func NewModels(pool *pgxpool.Pool) *Models {
	return &Models{
		Users:        UserModel{Pool: pool},
		Sessions:     SessionModel{Pool: pool},
		Otps:         OtpModel{Pool: pool},
		Rooms:        RoomModel{Pool: pool},
		Participants: ParticipantModel{Pool: pool},
		JoinRequests: JoinRequestModel{Pool: pool},
		RoomSessions: &RoomSessionModel{Pool: pool},
	}
}
