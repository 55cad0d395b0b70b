package service

import (
	"context"
	"time"

	"chatbridge/internal/errors"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/validation"

	"github.com/sirupsen/logrus"
)

// TokenServiceInterface mints provider session tokens
type TokenServiceInterface interface {
	CreateToken(ctx context.Context, userID string) (string, error)
}

// TokenService signs provider user tokens for authenticated local users.
// The provider user id is the local user id.
type TokenService struct {
	clients ServerClientFactory
	ttl     time.Duration
	logger  *logrus.Logger
}

// NewTokenService creates a token service; ttl <= 0 disables expiry
func NewTokenService(clients ServerClientFactory, ttl time.Duration, logger *logrus.Logger) *TokenService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TokenService{clients: clients, ttl: ttl, logger: logger}
}

// CreateToken returns a new signed token. Nothing is cached; concurrent
// calls for the same user each get an independent token.
func (s *TokenService) CreateToken(ctx context.Context, userID string) (string, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return "", err
	}

	client, err := s.clients()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeTokenSigning, "failed to construct provider client")
	}

	token, err := client.CreateToken(userID, s.ttl)
	if err != nil {
		metrics.IncrementCounter("chat_tokens_total", map[string]string{"outcome": "failure"}, "Provider tokens issued")
		return "", errors.Wrap(err, errors.ErrCodeTokenSigning, "failed to sign provider token").
			WithContext(logging.LogFieldUserID, SanitizeUserID(ctx, userID))
	}

	metrics.IncrementCounter("chat_tokens_total", map[string]string{"outcome": "success"}, "Provider tokens issued")
	s.logger.WithFields(logrus.Fields{
		logging.LogFieldUserID:    SanitizeUserID(ctx, userID),
		logging.LogFieldOperation: "create_token",
	}).Debug("Issued provider token")
	return token, nil
}
