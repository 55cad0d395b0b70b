package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chatbridge/pkg/stream/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// HealthCheckInterval is how often the client pings the provider
	HealthCheckInterval = 25 * time.Second
	wsReadLimit         = 1 << 20
)

var (
	ErrNotConnected     = errors.New("stream: user is not connected")
	ErrAlreadyConnected = errors.New("stream: user is already connected")
)

// Connection is a UserClient backed by one realtime websocket
type Connection struct {
	transport *transport
	logger    *logrus.Logger

	mu           sync.RWMutex
	user         types.User
	token        string
	connectionID string
	conn         *websocket.Conn
	cancel       context.CancelFunc
	done         chan struct{}

	handlersMu  sync.RWMutex
	handlers    map[int]func(types.Event)
	nextHandler int
}

// NewUserClient creates an unconnected client using the public API key
func NewUserClient(baseURL, apiKey string, httpClient *http.Client, logger *logrus.Logger) UserClient {
	t := newTransport(baseURL, apiKey, httpClient, logger)
	return &Connection{
		transport: t,
		logger:    t.logger,
		handlers:  make(map[int]func(types.Event)),
	}
}

// ConnectUser opens the realtime connection and waits for the provider's
// first health check, which carries the connection id.
func (c *Connection) ConnectUser(ctx context.Context, user types.User, token string) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if token == "" {
		return fmt.Errorf("user token is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	wsURL, err := c.connectURL(user, token)
	if err != nil {
		return err
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &types.APIError{StatusCode: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return fmt.Errorf("failed to open websocket: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	var first types.Event
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		conn.Close(websocket.StatusProtocolError, "no health check")
		return fmt.Errorf("failed to read connect event: %w", err)
	}
	if first.Type != types.EventHealthCheck || first.ConnectionID == "" {
		conn.Close(websocket.StatusPolicyViolation, "unexpected connect event")
		return fmt.Errorf("unexpected connect event %q", first.Type)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.user = user
	c.token = token
	c.connectionID = first.ConnectionID
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.readLoop(loopCtx, conn, c.done)
	go c.keepAlive(loopCtx, conn, first.ConnectionID)

	c.logger.WithField("connection_id", first.ConnectionID).Debug("Stream websocket connected")
	return nil
}

func (c *Connection) connectURL(user types.User, token string) (string, error) {
	u, err := url.Parse(c.transport.baseURL + "/connect")
	if err != nil {
		return "", fmt.Errorf("invalid stream base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	payload, err := json.Marshal(types.ConnectRequest{
		UserID:                       user.ID,
		UserDetails:                  user,
		ServerDeterminesConnectionID: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal connect payload: %w", err)
	}

	q := url.Values{}
	q.Set("json", string(payload))
	q.Set("api_key", c.transport.apiKey)
	q.Set("authorization", token)
	q.Set("stream-auth-type", "jwt")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var ev types.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.WithError(err).Warn("Stream websocket read failed")
			}
			return
		}
		if ev.Type == types.EventHealthCheck {
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Connection) keepAlive(ctx context.Context, conn *websocket.Conn, connectionID string) {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := map[string]string{"type": types.EventHealthCheck, "client_id": connectionID}
			if err := wsjson.Write(ctx, conn, ping); err != nil {
				return
			}
		}
	}
}

func (c *Connection) dispatch(ev types.Event) {
	c.handlersMu.RLock()
	handlers := make([]func(types.Event), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers a handler for realtime events
func (c *Connection) Subscribe(handler func(types.Event)) func() {
	c.handlersMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = handler
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, id)
		c.handlersMu.Unlock()
	}
}

// UserID returns the connected user's id
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user.ID
}

// ConnectionID returns the id assigned by the provider, or ""
func (c *Connection) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionID
}

// Disconnect closes the websocket. It is safe to call more than once.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.cancel, c.done = nil, nil, nil
	c.token, c.connectionID = "", ""
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		c.logger.WithError(err).Debug("Stream websocket close handshake incomplete")
	}
	cancel()
	<-done
	return nil
}

func (c *Connection) credentials() (token, connectionID string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return "", "", ErrNotConnected
	}
	return c.token, c.connectionID, nil
}

// DeleteMessage deletes a message; hard removes it for every member
func (c *Connection) DeleteMessage(ctx context.Context, messageID string, hard bool) error {
	token, _, err := c.credentials()
	if err != nil {
		return err
	}
	query := url.Values{}
	if hard {
		query.Set("hard", "true")
	}
	return c.transport.do(ctx, "delete_message", http.MethodDelete, "/messages/"+url.PathEscape(messageID),
		query, token, nil, nil)
}

// Channel returns a handle on channelType:channelID. No request is made.
func (c *Connection) Channel(channelType, channelID string, members []string) Channel {
	return &channelHandle{
		conn:        c,
		channelType: channelType,
		channelID:   channelID,
		members:     append([]string(nil), members...),
	}
}

type channelHandle struct {
	conn        *Connection
	channelType string
	channelID   string
	members     []string
}

func (h *channelHandle) ID() string  { return h.channelID }
func (h *channelHandle) CID() string { return h.channelType + ":" + h.channelID }

// Watch creates the channel if needed, loads its state and subscribes the
// connection to its events
func (h *channelHandle) Watch(ctx context.Context) (*types.ChannelState, error) {
	token, connectionID, err := h.conn.credentials()
	if err != nil {
		return nil, err
	}

	req := types.ChannelQueryRequest{
		State:        true,
		Watch:        true,
		ConnectionID: connectionID,
	}
	if len(h.members) > 0 {
		req.Data = &types.ChannelQueryData{Members: h.members}
	}

	var state types.ChannelState
	if err := h.conn.transport.do(ctx, "query_channel", http.MethodPost,
		channelPath(h.channelType, h.channelID, "query"), nil, token, req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SendMessage posts text to the channel with a client-generated id
func (h *channelHandle) SendMessage(ctx context.Context, text string) (*types.Message, error) {
	token, _, err := h.conn.credentials()
	if err != nil {
		return nil, err
	}

	req := types.SendMessageRequest{Message: types.MessageRequest{ID: uuid.NewString(), Text: text}}
	var resp types.MessageResponse
	if err := h.conn.transport.do(ctx, "send_message", http.MethodPost,
		channelPath(h.channelType, h.channelID, "message"), nil, token, req, &resp); err != nil {
		return nil, err
	}
	return &resp.Message, nil
}
