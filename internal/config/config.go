package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"chatbridge/internal/constants"
	"chatbridge/internal/models"
	"chatbridge/internal/security"
)

var (
	ErrMissingStreamKey    = models.ConfigError{Message: "missing Stream API key (set STREAM_API_KEY)"}
	ErrMissingStreamSecret = models.ConfigError{Message: "missing Stream API secret (set STREAM_API_SECRET)"}
	ErrInvalidPort         = models.ConfigError{Message: "server port must be between 1 and 65535"}
)

// LoadConfig reads the optional JSON file at path, applies defaults and
// environment overrides, then validates. An empty path configures from
// the environment alone.
func LoadConfig(path string) (*models.Config, error) {
	var config models.Config

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(file, &config); err != nil {
			return nil, err
		}
	}

	applyDefaults(&config)
	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ClientURL == "" {
		c.Server.ClientURL = constants.DefaultClientURL
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = constants.DefaultStaticDir
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = constants.DefaultMaxRequestBodyBytes
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = constants.DefaultRateLimitPerMinute
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	if c.Stream.APIBaseURL == "" {
		c.Stream.APIBaseURL = constants.DefaultStreamBaseURL
	}
	if c.Stream.ChannelType == "" {
		c.Stream.ChannelType = constants.DefaultChannelType
	}
	if c.Stream.TokenTTLMinutes <= 0 {
		c.Stream.TokenTTLMinutes = constants.DefaultTokenTTLMinutes
	}
	if c.Stream.TimeoutSec <= 0 {
		c.Stream.TimeoutSec = constants.DefaultStreamTimeoutSec
	}

	if c.Auth.CookieName == "" {
		c.Auth.CookieName = constants.DefaultSessionCookieName
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "chatbridge"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

func applyEnvironmentOverrides(c *models.Config) error {
	if key := os.Getenv("STREAM_API_KEY"); key != "" {
		c.Stream.APIKey = key
	}
	// SECURITY: the provider secret is never read from the config file
	c.Stream.APISecret = os.Getenv("STREAM_API_SECRET")

	if url := os.Getenv("STREAM_API_URL"); url != "" {
		c.Stream.APIBaseURL = url
	}
	c.Auth.JWTSecret = os.Getenv("JWT_SECRET_KEY")

	if clientURL := os.Getenv("CLIENT_URL"); clientURL != "" {
		c.Server.ClientURL = clientURL
	}
	c.Server.ClientURL = NormalizeOrigin(c.Server.ClientURL)

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid PORT %q", port)}
		}
		c.Server.Port = p
	}
	if env := os.Getenv("CHATBRIDGE_ENV"); env != "" {
		c.Environment = env
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		c.Server.StaticDir = dir
	}

	return nil
}

// NormalizeOrigin strips a trailing slash so CORS origin comparison matches browsers
func NormalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.TrimSpace(origin), "/")
}

func validate(c *models.Config) error {
	if c.Stream.APIKey == "" {
		return ErrMissingStreamKey
	}
	if c.Stream.APISecret == "" {
		return ErrMissingStreamSecret
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Environment != "production" && c.Environment != "development" {
		return models.ConfigError{Message: fmt.Sprintf("unknown environment %q (want production or development)", c.Environment)}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample_rate must be within [0, 1]"}
	}
	return nil
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return models.ConfigError{Message: "session secret is required in production (set JWT_SECRET_KEY environment variable)"}
		}
		if len(c.Auth.JWTSecret) < constants.MinSessionSecretLength {
			return models.ConfigError{Message: fmt.Sprintf("session secret must be at least %d characters long", constants.MinSessionSecretLength)}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		return nil
	}

	if c.Auth.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: JWT_SECRET_KEY not set. Every authenticated endpoint will reject requests.\n")
	}
	return nil
}
