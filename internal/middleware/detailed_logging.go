package middleware

import (
	"net/http"
	"strings"

	"chatbridge/internal/logging"
	"chatbridge/internal/privacy"
	"chatbridge/internal/tracing"

	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	SensitiveHeaders []string `json:"sensitive_headers"`
	SkipEndpoints    []string `json:"skip_endpoints"`
}

// DefaultDetailedLoggingConfig masks credentials and skips probe endpoints
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		SensitiveHeaders: []string{"authorization", "cookie", "set-cookie", "stream-auth-type"},
		SkipEndpoints:    []string{"/api/health", "/api/metrics"},
	}
}

// DetailedLoggingMiddleware logs request headers at debug level with
// credentials masked. Only installed in verbose mode.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) func(http.Handler) http.Handler {
	sensitive := make(map[string]bool, len(config.SensitiveHeaders))
	for _, h := range config.SensitiveHeaders {
		sensitive[strings.ToLower(h)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipEndpoints {
				if r.URL.Path == skip {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.WithFields(logrus.Fields{
				logging.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				logging.LogFieldMethod:    r.Method,
				logging.LogFieldURL:       r.URL.Path,
				"headers":                 maskHeaders(r.Header, sensitive),
				"content_length":          r.ContentLength,
			}).Debug("HTTP request details")

			next.ServeHTTP(w, r)
		})
	}
}

func maskHeaders(headers http.Header, sensitive map[string]bool) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		value := strings.Join(values, ", ")
		if sensitive[strings.ToLower(name)] {
			value = privacy.MaskToken(value)
		}
		out[name] = value
	}
	return out
}
