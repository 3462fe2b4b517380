package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims. A token carries either an explicit
// system list or the all-systems flag.
type Claims struct {
	Systems    []int64 `json:"systems,omitempty"`
	AllSystems bool    `json:"all_systems,omitempty"`
	jwt.RegisteredClaims
}

// Scope converts the claims into an authorization scope.
func (c *Claims) Scope() Scope {
	if c.AllSystems {
		return AllSystems
	}
	return NewSystems(c.Systems...)
}

// ParseToken verifies an HMAC-signed token and returns its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs a token for the given subject and scope. An empty
// systems list with all false yields a token that sees nothing.
func IssueToken(secret []byte, subject string, systems []int64, all bool, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		Systems:    systems,
		AllSystems: all,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
