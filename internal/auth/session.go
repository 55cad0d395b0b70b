// Package auth verifies the session cookie issued by the account service
// and exposes the authenticated identity to handlers.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatbridge/internal/errors"
	"chatbridge/internal/httputil"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	msgNoToken      = "Unauthorized - No token provided"
	msgInvalidToken = "Unauthorized - Invalid token"
)

// SessionClaims are the claims of the session cookie
type SessionClaims struct {
	UserID     string `json:"userId"`
	FullName   string `json:"fullName,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks session cookies signed with a shared HMAC secret
type Verifier struct {
	secret     []byte
	cookieName string
	logger     *logrus.Logger
}

// NewVerifier creates a verifier. With an empty secret every token is rejected.
func NewVerifier(secret, cookieName string, logger *logrus.Logger) *Verifier {
	return &Verifier{secret: []byte(secret), cookieName: cookieName, logger: logger}
}

// Verify parses a session token and returns the identity it carries
func (v *Verifier) Verify(token string) (models.Identity, error) {
	if len(v.secret) == 0 {
		return models.Identity{}, errors.NewAuthError("session secret not configured")
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Identity{}, errors.Wrap(err, errors.ErrCodeAuthentication, "invalid session token").
			WithUserMessage(msgInvalidToken)
	}
	if claims.UserID == "" {
		return models.Identity{}, errors.NewAuthError("session token has no userId")
	}

	return models.Identity{ID: claims.UserID, Name: claims.FullName, Image: claims.ProfilePic}, nil
}

// RequireUser rejects requests without a valid session cookie and stores
// the identity on the request context
func (v *Verifier) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(v.cookieName)
		if err != nil || cookie.Value == "" {
			v.reject(w, r, "missing", msgNoToken)
			return
		}

		identity, err := v.Verify(cookie.Value)
		if err != nil {
			v.logger.WithError(err).WithField(logging.LogFieldRemoteIP, httputil.GetClientIP(r)).
				Debug("Session token rejected")
			v.reject(w, r, "invalid", msgInvalidToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), identity)))
	})
}

func (v *Verifier) reject(w http.ResponseWriter, r *http.Request, reason, message string) {
	metrics.IncrementCounter("auth_failures_total", map[string]string{"reason": reason}, "Rejected session cookies")
	v.logger.WithFields(logrus.Fields{
		logging.LogFieldRemoteIP: httputil.GetClientIP(r),
		logging.LogFieldURL:      r.URL.Path,
		"reason":                 reason,
	}).Warn("Unauthenticated request")
	_ = httputil.WriteJSON(w, http.StatusUnauthorized, models.MessageResponse{Message: message})
}

// IssueSessionToken signs a session token for identity. The account service
// owns this in production; it is used by tests and local tooling.
func IssueSessionToken(secret string, identity models.Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("session secret is empty")
	}
	if !identity.Valid() {
		return "", fmt.Errorf("identity has no id")
	}
	now := time.Now()
	claims := SessionClaims{
		UserID:     identity.ID,
		FullName:   identity.Name,
		ProfilePic: identity.Image,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type userKey struct{}

// WithUser stores the authenticated identity on ctx
func WithUser(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, userKey{}, identity)
}

// UserFromContext returns the identity stored by RequireUser
func UserFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(userKey{}).(models.Identity)
	return identity, ok && identity.Valid()
}
