package objstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UploadSigner mints short-lived tokens that authorize one direct upload
// to a specific object key. Used by the in-memory store, where the API
// itself plays the role S3 presigned URLs play in production.
type UploadSigner struct {
	secret []byte
}

func NewUploadSigner(secret string) *UploadSigner {
	return &UploadSigner{secret: []byte(secret)}
}

type uploadClaims struct {
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Sign returns a token authorizing an upload to key until ttl elapses.
func (s *UploadSigner) Sign(key string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := uploadClaims{
		Key: key,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks a token and returns the object key it authorizes.
func (s *UploadSigner) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &uploadClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid upload token: %w", err)
	}

	claims, ok := parsed.Claims.(*uploadClaims)
	if !ok || claims.Key == "" {
		return "", errors.New("invalid upload token claims")
	}
	return claims.Key, nil
}
