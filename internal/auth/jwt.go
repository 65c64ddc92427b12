package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultCookieName = "lockr_token"
	DefaultIssuer     = "lockr"

	minSecretLen = 16
)

// Claims is a lockr session: the account name rides in the registered subject.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Username() string { return c.Subject }

func NewRandomSecretB64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var ErrShortJWTSecret = errors.New("jwt secret must be at least 16 bytes")

// DecodeSecret accepts base64url text or a raw string. The base64 reading wins
// only when it yields a full-length key.
func DecodeSecret(text string) ([]byte, error) {
	if raw, err := base64.RawURLEncoding.DecodeString(text); err == nil && len(raw) >= minSecretLen {
		return raw, nil
	}
	if len(text) < minSecretLen {
		return nil, ErrShortJWTSecret
	}
	return []byte(text), nil
}

const tokenLeeway = 30 * time.Second

var ErrInvalidToken = errors.New("invalid token")

func SignHS256(secret []byte, username string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    DefaultIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseHS256 accepts only HS256 tokens issued by lockr that name an account and carry an expiry.
func ParseHS256(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(DefaultIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
