package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"chatbridge/pkg/stream/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chatbridge/pkg/stream"

// transport performs authenticated JSON calls against the provider REST API
type transport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

func newTransport(baseURL, apiKey string, httpClient *http.Client, logger *logrus.Logger) *transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &transport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
		logger:  logger,
	}
}

// do sends body as JSON and decodes the response into out. Non-2xx
// responses are returned as *types.APIError.
func (t *transport) do(ctx context.Context, operation, method, path string, query url.Values, authToken string, body, out interface{}) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stream."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("stream.operation", operation),
		))
	defer span.End()

	err := t.doRequest(ctx, method, path, query, authToken, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var apiErr *types.APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", apiErr.StatusCode))
		}
	}
	return err
}

func (t *transport) doRequest(ctx context.Context, method, path string, query url.Values, authToken string, body, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", t.apiKey)
	endpoint := t.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", authToken)
	req.Header.Set("Stream-Auth-Type", "jwt")
	req.Header.Set("X-Stream-Client", "chatbridge-go")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	t.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
	}).Debug("Stream request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusCode extracts the HTTP status of a provider error, or 0 when err
// did not come from a provider response.
func StatusCode(err error) int {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func decodeAPIError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &types.APIError{}
	if err := json.Unmarshal(bodyBytes, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(bodyBytes))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}

func channelPath(channelType, channelID, action string) string {
	return fmt.Sprintf("/channels/%s/%s/%s", url.PathEscape(channelType), url.PathEscape(channelID), action)
}
