package chatsession

import (
	"context"
	"fmt"
	"strings"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
	"chatbridge/internal/models"
	"chatbridge/internal/notify"
	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
)

const (
	callLinkSentMessage   = "Video call link sent successfully!"
	callLinkFailedMessage = "Failed to send video call link"
)

// Session is an established chat between the local user and one peer
type Session struct {
	User      models.Identity
	ChannelID string
	Client    stream.UserClient
	Channel   stream.Channel
	// Initial is the channel state returned by the watch
	Initial *types.ChannelState

	notifier notify.Notifier
	logger   *logrus.Logger
}

// CallURL returns the video call link for this channel
func (s *Session) CallURL(origin string) string {
	return strings.TrimSuffix(origin, "/") + constants.DefaultCallPathPrefix + s.ChannelID
}

// SendCallLink posts a video call invitation into the channel
func (s *Session) SendCallLink(ctx context.Context, origin string) (*types.Message, error) {
	text := fmt.Sprintf("I've started a video call. Join me here: %s", s.CallURL(origin))

	msg, err := s.Channel.SendMessage(ctx, text)
	if err != nil {
		s.notifier.Error(callLinkFailedMessage)
		return nil, errors.NewAPIError("stream", "send_message", stream.StatusCode(err), err)
	}

	s.notifier.Success(callLinkSentMessage)
	return msg, nil
}

// Send posts a plain text message
func (s *Session) Send(ctx context.Context, text string) (*types.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "message text cannot be empty")
	}
	msg, err := s.Channel.SendMessage(ctx, text)
	if err != nil {
		return nil, errors.NewAPIError("stream", "send_message", stream.StatusCode(err), err)
	}
	return msg, nil
}

func (s *Session) close(logger *logrus.Logger) {
	closeClient(s.Client, logger)
}
