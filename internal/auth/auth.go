// Package auth carries the actor/role model and the JWT middleware guarding
// the mutating certificate endpoints.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the capability role carried in a token.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCA        Role = "ca"
	RoleReviewer  Role = "reviewer"
	RoleRecipient Role = "recipient"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

// CanIssue reports whether the actor holds the CA or admin capability
// required to create and issue certificates.
func (a Actor) CanIssue() bool {
	return a.Role == RoleCA || a.Role == RoleAdmin
}

// Claims is the JWT claim set used by the API.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// NewToken mints a signed token for an actor. Used by the login flow and by
// integration tooling.
func NewToken(secret string, actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a signed token and returns the actor it identifies.
func ParseToken(secret, tokenString string) (Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Actor{}, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return Actor{}, fmt.Errorf("invalid token")
	}
	return Actor{ID: claims.Subject, Role: claims.Role}, nil
}
