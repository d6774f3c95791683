package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSecretMissing      = errors.New("auth: JWT_SECRET is not configured")
)

// IssueToken signs an HS256 token for the admin principal.
func IssueToken(secret, username string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates the signature and expiry and returns the subject.
func ParseToken(secret, raw string) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// VerifyAdminPassword checks the supplied password against the configured
// bcrypt hash, falling back to a constant-time compare against the plain
// password when no hash is set.
func VerifyAdminPassword(hash, plain, supplied string) error {
	if hash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(supplied)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if plain == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(plain), []byte(supplied)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
