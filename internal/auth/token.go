// Package auth parses and mints the access tokens through which the
// upstream auth layer hands this service a verified identity. The
// token subject is the opaque user id; the handle claim carries the
// user's source-control account id.
package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// Identity is the verified caller resolved from a token.
type Identity struct {
	UserID string
	Handle string
}

var ErrInvalidToken = errors.New("invalid token")

func IssueToken(secret []byte, userID, handle string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func ParseToken(secret []byte, token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Handle: claims.Handle}, nil
}
