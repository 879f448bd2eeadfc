// Package auth validates the tokens WebSocket transport dialers present
// when connecting to a listening node.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience and Issuer are the registered-claim values tokens must carry.
const (
	Audience = "bintunnel"
	Issuer   = "bintunnel-operator"
)

// Validator validates transport tokens and returns parsed claims.
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// NewValidator returns a Validator that checks HMAC-signed tokens against
// the shared secret.
func NewValidator(secret string) (Validator, error) {
	if secret == "" {
		return nil, errors.New("token secret must be set")
	}
	return &hmacValidator{secret: []byte(secret)}, nil
}

type hmacValidator struct {
	secret []byte
}

func (v *hmacValidator) Validate(_ context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(Audience), jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("jwt validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid jwt token")
	}
	return claims.Copy(), nil
}

// NewToken mints an HMAC-signed token for the given subject and device ids,
// valid for ttl. Intended for operator tooling and tests.
func NewToken(secret, subject string, devices []int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Devices: devices,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{Audience},
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
