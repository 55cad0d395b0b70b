package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single REST call when no http.Client is supplied
const DefaultTimeout = 10 * time.Second

// Client is the privileged REST client
type Client struct {
	transport *transport
	apiSecret string
}

// NewClient creates a privileged client. httpClient may be nil.
func NewClient(baseURL, apiKey, apiSecret string, httpClient *http.Client) (ServerClient, error) {
	return NewClientWithLogger(baseURL, apiKey, apiSecret, httpClient, nil)
}

// NewClientWithLogger is NewClient with an explicit logger
func NewClientWithLogger(baseURL, apiKey, apiSecret string, httpClient *http.Client, logger *logrus.Logger) (ServerClient, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("stream api key and secret are required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid stream base URL: %w", err)
	}
	return &Client{
		transport: newTransport(baseURL, apiKey, httpClient, logger),
		apiSecret: apiSecret,
	}, nil
}

// CreateToken signs a user token
func (c *Client) CreateToken(userID string, ttl time.Duration) (string, error) {
	return CreateToken(c.apiSecret, userID, ttl)
}

// TruncateChannel removes every message of the channel for all members
func (c *Client) TruncateChannel(ctx context.Context, channelType, channelID string, hardDelete bool) error {
	token, err := serverToken(c.apiSecret)
	if err != nil {
		return fmt.Errorf("failed to sign server token: %w", err)
	}
	return c.transport.do(ctx, "truncate", http.MethodPost, channelPath(channelType, channelID, "truncate"),
		nil, token, types.TruncateRequest{HardDelete: hardDelete}, nil)
}

// QueryMembers lists channel members, optionally restricted to userIDs
func (c *Client) QueryMembers(ctx context.Context, channelType, channelID string, userIDs ...string) ([]types.Member, error) {
	token, err := serverToken(c.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign server token: %w", err)
	}

	filter := map[string]interface{}{}
	if len(userIDs) > 0 {
		filter["id"] = map[string]interface{}{"$in": userIDs}
	}
	payload, err := json.Marshal(types.MembersQuery{
		Type:             channelType,
		ID:               channelID,
		FilterConditions: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal members query: %w", err)
	}

	var resp types.MembersResponse
	query := url.Values{"payload": []string{string(payload)}}
	if err := c.transport.do(ctx, "query_members", http.MethodGet, "/members", query, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}
