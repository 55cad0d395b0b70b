package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"chatbridge/internal/httputil"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// ObservabilityMiddleware adds request ids, spans, metrics and access logs
func ObservabilityMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := routeTemplate(r)

			ctx, span := tracing.StartSpan(r.Context(), "HTTP "+r.Method+" "+endpoint,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", endpoint),
				attribute.String("client.address", httputil.GetClientIP(r)),
			)
			defer span.End()

			ctx = tracing.WithRequestTracing(ctx, r.Header.Get(RequestIDHeader))
			r = r.WithContext(ctx)
			requestInfo := tracing.GetRequestInfo(ctx)
			w.Header().Set(RequestIDHeader, requestInfo.RequestID)

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			logger.WithFields(logrus.Fields{
				logging.LogFieldRequestID: requestInfo.RequestID,
				logging.LogFieldTraceID:   requestInfo.TraceID,
				logging.LogFieldMethod:    r.Method,
				logging.LogFieldURL:       r.URL.Path,
				logging.LogFieldRemoteIP:  httputil.GetClientIP(r),
				logging.LogFieldUserAgent: r.Header.Get("User-Agent"),
			}).Debug("HTTP request started")

			metrics.IncrementCounter("http_requests_total", map[string]string{
				"method":   r.Method,
				"endpoint": endpoint,
			}, "Total HTTP requests")
			metrics.AddToCounter("http_requests_active", 1, nil, "Currently active HTTP requests")
			defer metrics.AddToCounter("http_requests_active", -1, nil, "Currently active HTTP requests")

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := strconv.Itoa(wrapper.statusCode)

			span.SetAttributes(
				attribute.Int("http.response.status_code", wrapper.statusCode),
				attribute.Int64("http.response.body.size", wrapper.responseSize),
			)
			if wrapper.statusCode >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}

			metrics.RecordTimer("http_request_duration", duration, map[string]string{
				"method":      r.Method,
				"endpoint":    endpoint,
				"status_code": status,
			}, "HTTP request duration")
			metrics.IncrementCounter("http_responses_total", map[string]string{
				"method":      r.Method,
				"endpoint":    endpoint,
				"status_code": status,
			}, "HTTP responses by status code")

			logLevel := logrus.InfoLevel
			if wrapper.statusCode >= 400 && wrapper.statusCode < 500 {
				logLevel = logrus.WarnLevel
			} else if wrapper.statusCode >= 500 {
				logLevel = logrus.ErrorLevel
			}

			logger.WithFields(logrus.Fields{
				logging.LogFieldRequestID:  requestInfo.RequestID,
				logging.LogFieldTraceID:    requestInfo.TraceID,
				logging.LogFieldMethod:     r.Method,
				logging.LogFieldURL:        r.URL.Path,
				logging.LogFieldStatusCode: wrapper.statusCode,
				logging.LogFieldDuration:   duration.Milliseconds(),
				logging.LogFieldRemoteIP:   httputil.GetClientIP(r),
				logging.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// routeTemplate labels metrics by route pattern so path ids don't explode cardinality
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// responseWrapper captures response metrics
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
