// Package auth validates the HS256 bearer tokens that identify a user on the
// HTTP API and the speech socket.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("auth: jwt secret not configured")
)

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Validator is what the middleware and the socket handler need.
type Validator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Authority signs and validates tokens with one shared secret.
type Authority struct {
	secret []byte
}

func NewAuthority(secret string) (*Authority, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Authority{secret: []byte(secret)}, nil
}

// ValidateToken returns the claims of a valid, unexpired token whose user id
// is a UUID.
func (a *Authority) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs an access token for userID.
func (a *Authority) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID.String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
