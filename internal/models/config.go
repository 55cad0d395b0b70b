package models

// Config holds the backend configuration
type Config struct {
	Server   ServerConfig  `json:"server"`
	Stream   StreamConfig  `json:"stream"`
	Auth     AuthConfig    `json:"auth"`
	Tracing  TracingConfig `json:"tracing"`
	LogLevel string        `json:"log_level"`
	// Environment is "production" or "development"; set from CHATBRIDGE_ENV.
	Environment string `json:"environment"`
}

// IsProduction reports whether production static serving is enabled
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port               int    `json:"port"`
	ClientURL          string `json:"clientURL"`
	StaticDir          string `json:"staticDir"`
	ReadTimeoutSec     int    `json:"readTimeoutSec"`
	WriteTimeoutSec    int    `json:"writeTimeoutSec"`
	IdleTimeoutSec     int    `json:"idleTimeoutSec"`
	MaxBodyBytes       int64  `json:"maxBodyBytes"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
	RateLimitBurst     int    `json:"rateLimitBurst"`
}

// StreamConfig holds chat provider configuration. APISecret is only
// ever read from the environment.
type StreamConfig struct {
	APIBaseURL               string `json:"api_base_url"`
	APIKey                   string `json:"api_key"`
	APISecret                string `json:"-"`
	ChannelType              string `json:"channelType"`
	TokenTTLMinutes          int    `json:"tokenTTLMinutes"`
	TimeoutSec               int    `json:"timeoutSec"`
	EnforceChannelMembership *bool  `json:"enforceChannelMembership"`
}

// MembershipEnforced defaults to true when unset
func (s StreamConfig) MembershipEnforced() bool {
	return s.EnforceChannelMembership == nil || *s.EnforceChannelMembership
}

// AuthConfig holds session cookie verification settings
type AuthConfig struct {
	CookieName string `json:"cookieName"`
	JWTSecret  string `json:"-"`
}

// TracingConfig mirrors tracing.TracingConfig for JSON loading
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
