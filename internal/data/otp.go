package data

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const OtpPurposeRegister = "REGISTER"

func GenerateOtp() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

type OtpModel struct {
	Pool *pgxpool.Pool
}

// Upsert stores the bcrypt hash of a freshly generated code. One live code
// per (email, purpose); re-sending replaces it and resets the attempt count.
func (m *OtpModel) Upsert(ctx context.Context, email, purpose, otp string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(otp), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	stmt := `INSERT INTO otps(email, purpose, otp_hash, attempts, expires_at)
	         VALUES($1, $2, $3, 0, $4)
	         ON CONFLICT (email, purpose) DO UPDATE
	         SET otp_hash = EXCLUDED.otp_hash, attempts = 0, expires_at = EXCLUDED.expires_at`
	_, err = m.Pool.Exec(ctx, stmt, email, purpose, hash, time.Now().Add(OtpTTL))
	return err
}

func (m *OtpModel) Verify(ctx context.Context, email, purpose, otp string) error {
	stmt := `SELECT otp_hash, expires_at FROM otps WHERE email = $1 AND purpose = $2`

	var hash []byte
	var expiresAt time.Time
	err := m.Pool.QueryRow(ctx, stmt, email, purpose).Scan(&hash, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if time.Now().After(expiresAt) {
		return ErrNotFound
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(otp))
}
