package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The JWT only names a sessions row; everything else (user, expiry,
// revocation) is resolved against the database so logout works instantly.
type sessionClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

func (app *application) newSessionToken(sessionID string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(app.config.jwtSecret))
}

func (app *application) parseSessionToken(token string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(app.config.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	if claims.SessionID == "" {
		return "", errors.New("token carries no session id")
	}
	return claims.SessionID, nil
}
