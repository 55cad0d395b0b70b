package stream

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserClaims are the claims of a provider user token
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// CreateToken signs a user token with the API secret. A zero ttl yields a
// token without expiry. Every call returns a distinct token.
func CreateToken(apiSecret, userID string, ttl time.Duration) (string, error) {
	if apiSecret == "" {
		return "", fmt.Errorf("api secret is empty")
	}
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}

	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a user token and returns its claims
func ParseToken(apiSecret, token string) (*UserClaims, error) {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(apiSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user_id claim")
	}
	return claims, nil
}

// serverToken signs the server-side credential used by privileged calls
func serverToken(apiSecret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true}).
		SignedString([]byte(apiSecret))
}

// IsServerToken reports whether token is a valid server credential for apiSecret
func IsServerToken(apiSecret, token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(apiSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	server, _ := claims["server"].(bool)
	return server
}
