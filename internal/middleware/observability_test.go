package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatbridge/internal/metrics"
	"chatbridge/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger, &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestObservabilityMiddleware_RecordsRequest(t *testing.T) {
	metrics.GetRegistry().Reset()
	logger, buf := bufferedLogger(logrus.InfoLevel)

	router := mux.NewRouter()
	router.Use(ObservabilityMiddleware(logger))
	router.HandleFunc("/api/chat/{action}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, tracing.GetRequestID(r.Context()))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get(RequestIDHeader), "req_"))

	snap := metrics.GetAllMetrics()
	assert.Contains(t, snap.Counters, "http_requests_total_endpoint:/api/chat/{action}_method:GET")
	assert.Contains(t, snap.Counters, "http_responses_total_endpoint:/api/chat/{action}_method:GET_status_code:201")
	assert.Equal(t, float64(0), snap.Counters["http_requests_active"].Value)

	entry := lastLogLine(t, buf)
	assert.Equal(t, "HTTP request completed", entry["msg"])
	assert.Equal(t, float64(201), entry["status_code"])
	assert.Equal(t, float64(11), entry["size_bytes"])
}

func TestObservabilityMiddleware_ReusesInboundRequestID(t *testing.T) {
	logger, _ := bufferedLogger(logrus.ErrorLevel)
	handler := ObservabilityMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "upstream-7", tracing.GetRequestID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(RequestIDHeader, "upstream-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "upstream-7", rec.Header().Get(RequestIDHeader))
}

func TestObservabilityMiddleware_LogLevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusForbidden, "warning"},
		{http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logger, buf := bufferedLogger(logrus.InfoLevel)
			handler := ObservabilityMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat/clear", nil))

			assert.Equal(t, tt.level, lastLogLine(t, buf)["level"])
		})
	}
}

func TestResponseWrapper_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	_, _ = rw.Write([]byte("x"))
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, int64(1), rw.responseSize)
	assert.Equal(t, rec, rw.Unwrap())
}

func TestDetailedLoggingMiddleware_MasksCredentials(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat/token", nil)
	req.Header.Set("Cookie", "jwt=eyJhbGciOiJIUzI1NiJ9.eyJ1c2VySWQiOiJ1MSJ9.sig")
	req.Header.Set("Accept", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := lastLogLine(t, buf)
	headers := entry["headers"].(map[string]interface{})
	assert.Equal(t, "jwt=ey...[redacted]", headers["Cookie"])
	assert.Equal(t, "application/json", headers["Accept"])
	assert.NotContains(t, buf.String(), "sig")
}

func TestDetailedLoggingMiddleware_SkipsProbes(t *testing.T) {
	logger, buf := bufferedLogger(logrus.DebugLevel)
	called := false
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.True(t, called)
	assert.Empty(t, buf.String())
}
