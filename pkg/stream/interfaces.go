package stream

import (
	"context"
	"time"

	"chatbridge/pkg/stream/types"
)

// ServerClient is a privileged client authenticated with the API secret.
// Callers construct one per operation and do not retain it.
type ServerClient interface {
	CreateToken(userID string, ttl time.Duration) (string, error)
	TruncateChannel(ctx context.Context, channelType, channelID string, hardDelete bool) error
	QueryMembers(ctx context.Context, channelType, channelID string, userIDs ...string) ([]types.Member, error)
}

// UserClient is a client acting as a single connected user
type UserClient interface {
	ConnectUser(ctx context.Context, user types.User, token string) error
	Channel(channelType, channelID string, members []string) Channel
	DeleteMessage(ctx context.Context, messageID string, hard bool) error
	Subscribe(handler func(types.Event)) (unsubscribe func())
	UserID() string
	ConnectionID() string
	Disconnect() error
}

// Channel is a handle on one channel for a connected user
type Channel interface {
	ID() string
	CID() string
	Watch(ctx context.Context) (*types.ChannelState, error)
	SendMessage(ctx context.Context, text string) (*types.Message, error)
}
