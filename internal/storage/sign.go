package storage

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type pathClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// SignPath issues a token granting read access to path until expiry.
func SignPath(secret []byte, path string, expiry time.Duration) (string, error) {
	claims := pathClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign path token: %w", err)
	}
	return signed, nil
}

// VerifyPath validates a token and returns the path it grants access to.
func VerifyPath(secret []byte, token string) (string, error) {
	claims := &pathClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid path token: %w", err)
	}
	if !parsed.Valid || claims.Path == "" {
		return "", fmt.Errorf("invalid path token")
	}
	return claims.Path, nil
}
