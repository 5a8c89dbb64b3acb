// Package auth issues and checks the bearer tokens kiosks present to the API.
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// RoleKiosk is the only role issued today; staff sessions live elsewhere.
const RoleKiosk = "kiosk"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrEnrollmentKey = errors.New("invalid enrollment key")
)

// Token is a signed access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims represents the JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// KioskID is the subject of the token.
func (c Claims) KioskID() string { return c.Subject }

// Issue signs an access token for a kiosk.
func Issue(kioskID, issuer, key string, ttl time.Duration) (Token, error) {
	if kioskID == "" {
		return Token{}, errors.New("kiosk id required")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role: RoleKiosk,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   kioskID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Token{}, errors.Wrap(err, "sign token")
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// CheckEnrollmentKey compares a presented enrollment key in constant time.
// An empty configured key disables enrollment.
func CheckEnrollmentKey(configured, presented string) error {
	if configured == "" || subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) != 1 {
		return ErrEnrollmentKey
	}
	return nil
}
