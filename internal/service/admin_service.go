package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatbridge/internal/errors"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/models"
	"chatbridge/internal/validation"
	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
)

// AdminServiceInterface performs privileged channel operations
type AdminServiceInterface interface {
	ClearChannel(ctx context.Context, callerID, channelID string) error
}

// AdminService proxies destructive operations that require the API secret
type AdminService struct {
	clients           ServerClientFactory
	channelType       string
	enforceMembership bool
	logger            *logrus.Logger
}

// NewAdminService creates an admin service
func NewAdminService(clients ServerClientFactory, cfg models.StreamConfig, logger *logrus.Logger) *AdminService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AdminService{
		clients:           clients,
		channelType:       cfg.ChannelType,
		enforceMembership: cfg.MembershipEnforced(),
		logger:            logger,
	}
}

// ClearChannel hard-deletes every message of the channel for all members.
// When membership is enforced the caller must be a member of the channel.
func (s *AdminService) ClearChannel(ctx context.Context, callerID, channelID string) error {
	start := time.Now()
	ctx = errors.WithChannelContext(ctx, channelID)

	if err := validation.ValidateChannelID(channelID); err != nil {
		return err
	}

	client, err := s.clients()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to construct provider client")
	}

	if s.enforceMembership {
		members, err := client.QueryMembers(ctx, s.channelType, channelID, callerID)
		if err != nil {
			status := stream.StatusCode(err)
			if status == http.StatusNotFound {
				return errors.NewNotFoundError("Channel", channelID)
			}
			return s.fail(ctx, errors.NewAPIError("stream", "query_members", status, err), callerID, channelID)
		}
		if !containsMember(members, callerID) {
			s.logger.WithFields(logrus.Fields{
				logging.LogFieldUserID:    SanitizeUserID(ctx, callerID),
				logging.LogFieldChannelID: SanitizeChannelID(ctx, channelID),
				logging.LogFieldOperation: "clear_channel",
			}).Warn("Rejected clear from non-member")
			metrics.IncrementCounter("chat_clear_total", map[string]string{"outcome": "forbidden"}, "Channel clear requests")
			return errors.NewForbiddenError("clear", fmt.Sprintf("%s:%s", s.channelType, channelID))
		}
	}

	if err := client.TruncateChannel(ctx, s.channelType, channelID, true); err != nil {
		return s.fail(ctx, errors.NewAPIError("stream", "truncate", stream.StatusCode(err), err), callerID, channelID)
	}

	metrics.IncrementCounter("chat_clear_total", map[string]string{"outcome": "success"}, "Channel clear requests")
	metrics.RecordTimer("chat_clear_duration", time.Since(start), nil, "Channel clear latency")
	s.logger.WithFields(logrus.Fields{
		logging.LogFieldUserID:    SanitizeUserID(ctx, callerID),
		logging.LogFieldChannelID: SanitizeChannelID(ctx, channelID),
		logging.LogFieldOperation: "clear_channel",
		logging.LogFieldDuration:  time.Since(start).Milliseconds(),
	}).Info("Channel cleared")
	return nil
}

func (s *AdminService) fail(ctx context.Context, err *errors.AppError, callerID, channelID string) error {
	metrics.IncrementCounter("chat_clear_total", map[string]string{"outcome": "failure"}, "Channel clear requests")
	errors.WrapLogger(s.logger).LogRetryableError(err, "Failed to clear channel", logrus.Fields{
		logging.LogFieldUserID:    SanitizeUserID(ctx, callerID),
		logging.LogFieldChannelID: SanitizeChannelID(ctx, channelID),
	})
	return err
}

func containsMember(members []types.Member, userID string) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
