// Package apiclient talks to the chatbridge backend on behalf of a
// logged-in user. The session cookie is sent with every request.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
	"chatbridge/internal/logging"
	"chatbridge/internal/middleware"
	"chatbridge/internal/models"
	"chatbridge/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const maxResponseBytes = 1 << 20

// Config configures a Client
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:5001/api
	BaseURL string
	// SessionToken seeds the session cookie when set
	SessionToken string
	CookieName   string
	Timeout      time.Duration
}

// ResolveBaseURL picks the API root: the configured URL (or the local
// default) in development, the serving origin's /api in production.
func ResolveBaseURL(environment, configured, origin string) string {
	if environment == "production" {
		return strings.TrimSuffix(origin, "/") + constants.ProductionAPIBasePath
	}
	if configured != "" {
		return strings.TrimSuffix(configured, "/")
	}
	return constants.DefaultDevAPIBaseURL
}

// Client is the backend API client. Token results are cached until Invalidate.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *logrus.Logger

	mu    sync.Mutex
	token string
}

// New creates a client with its own cookie jar
func New(cfg Config, logger *logrus.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultStreamTimeoutSec) * time.Second
	}
	if cfg.CookieName == "" {
		cfg.CookieName = constants.DefaultSessionCookieName
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if cfg.SessionToken != "" {
		jar.SetCookies(base, []*http.Cookie{{Name: cfg.CookieName, Value: cfg.SessionToken, Path: "/"}})
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Jar: jar, Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Token returns the provider token for the session user, fetching it once
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var resp models.TokenResponse
	if err := c.do(ctx, http.MethodGet, "/chat/token", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New(errors.ErrCodeBackendAPI, "backend returned an empty token")
	}
	c.token = resp.Token
	return c.token, nil
}

// Invalidate drops the cached token, e.g. on logout
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// ClearChat asks the backend to hard-truncate the channel
func (c *Client) ClearChat(ctx context.Context, channelID string) error {
	var resp models.MessageResponse
	return c.do(ctx, http.MethodPost, "/chat/clear", models.ClearChatRequest{ChannelID: channelID}, &resp)
}

// Health checks that the backend is reachable
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, span := tracing.StartSpan(ctx, "backend "+method+" "+path,
		attribute.String("http.request.method", method),
		attribute.String("url.path", path))
	defer span.End()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.RequestIDHeader, tracing.GenerateRequestID())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return errors.NewAPIError("backend", path, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.NewAPIError("backend", path, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.WithFields(logrus.Fields{
		logging.LogFieldMethod:     method,
		logging.LogFieldEndpoint:   path,
		logging.LogFieldStatusCode: resp.StatusCode,
		logging.LogFieldDuration:   time.Since(start).Milliseconds(),
	}).Debug("Backend call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := errors.NewAPIError("backend", path, resp.StatusCode, decodeError(resp.StatusCode, data))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			apiErr.Code = errors.ErrCodeAuthentication
		case http.StatusForbidden:
			apiErr.Code = errors.ErrCodeAuthorization
		}
		tracing.RecordError(ctx, apiErr)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewAPIError("backend", path, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// decodeError builds an error from a {"message", "error"} body, falling
// back to the status text
func decodeError(status int, body []byte) error {
	var payload errors.ErrorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return fmt.Errorf("backend returned HTTP %d", status)
	}
	if payload.Error != "" {
		return fmt.Errorf("%s: %s", payload.Message, payload.Error)
	}
	return fmt.Errorf("%s", payload.Message)
}
