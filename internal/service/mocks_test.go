package service

import (
	"context"
	"time"

	"chatbridge/pkg/stream"
	"chatbridge/pkg/stream/types"

	"github.com/stretchr/testify/mock"
)

type mockServerClient struct {
	mock.Mock
}

func (m *mockServerClient) CreateToken(userID string, ttl time.Duration) (string, error) {
	args := m.Called(userID, ttl)
	return args.String(0), args.Error(1)
}

func (m *mockServerClient) TruncateChannel(ctx context.Context, channelType, channelID string, hardDelete bool) error {
	args := m.Called(ctx, channelType, channelID, hardDelete)
	return args.Error(0)
}

func (m *mockServerClient) QueryMembers(ctx context.Context, channelType, channelID string, userIDs ...string) ([]types.Member, error) {
	args := m.Called(ctx, channelType, channelID, userIDs)
	members, _ := args.Get(0).([]types.Member)
	return members, args.Error(1)
}

// countingFactory hands out the given client and records how many were built
type countingFactory struct {
	client stream.ServerClient
	err    error
	built  int
}

func (f *countingFactory) build() (stream.ServerClient, error) {
	f.built++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}
