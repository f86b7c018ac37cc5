package data

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	UserStatusActive   = "ACTIVE"
	UserStatusInactive = "INACTIVE"
)

type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar,omitempty"`
	Status    string `json:"-"`
}

func (u *User) Name() string {
	return u.FirstName + " " + u.LastName
}

type UserModel struct {
	Pool *pgxpool.Pool
}

func (m *UserModel) Insert(ctx context.Context, u *User, passwordHash []byte) error {
	stmt := `INSERT INTO users(first_name, last_name, email, password_hash, avatar)
	         VALUES($1, $2, $3, $4, $5) RETURNING id, status`
	args := []any{u.FirstName, u.LastName, u.Email, passwordHash, u.Avatar}

	err := m.Pool.QueryRow(ctx, stmt, args...).Scan(&u.ID, &u.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Upsert creates the user if the email is unknown, otherwise refreshes the
// profile fields. Used by the OAuth callback, where there is no password.
func (m *UserModel) Upsert(ctx context.Context, u *User) error {
	stmt := `INSERT INTO users(first_name, last_name, email, avatar)
	         VALUES($1, $2, $3, $4)
	         ON CONFLICT (email) DO UPDATE
	         SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, avatar = EXCLUDED.avatar
	         RETURNING id, status`
	args := []any{u.FirstName, u.LastName, u.Email, u.Avatar}
	return m.Pool.QueryRow(ctx, stmt, args...).Scan(&u.ID, &u.Status)
}

func (m *UserModel) Get(ctx context.Context, id string) (*User, error) {
	stmt := `SELECT id, first_name, last_name, email, avatar, status FROM users WHERE id = $1`

	var u User
	err := m.Pool.QueryRow(ctx, stmt, id).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar, &u.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (m *UserModel) GetByEmail(ctx context.Context, email string) (*User, []byte, error) {
	stmt := `SELECT id, first_name, last_name, email, avatar, status, password_hash
	         FROM users WHERE email = $1`

	var u User
	var hash []byte
	err := m.Pool.QueryRow(ctx, stmt, email).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Avatar, &u.Status, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return &u, hash, nil
}

func (m *UserModel) EmailExists(ctx context.Context, email string) (bool, error) {
	stmt := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 AND status <> $2)`

	var exists bool
	err := m.Pool.QueryRow(ctx, stmt, email, UserStatusInactive).Scan(&exists)
	return exists, err
}
