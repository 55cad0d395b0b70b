// Package logging defines the structured log field names.
package logging

// Standard field names for structured logging. Use these exact keys so
// log queries work the same across the server and the client binaries.
const (
	// Core identifiers
	LogFieldUserID    = "user_id"
	LogFieldChannelID = "channel_id"
	LogFieldMessageID = "message_id"
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Session and action fields
	LogFieldState      = "state"
	LogFieldGeneration = "generation"
	LogFieldAction     = "action"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Error and debugging
	LogFieldErrorCode = "error_code"
	LogFieldAttempt   = "attempt"
)

// Log levels
//
// DEBUG: per-request detail, raw provider payload sizes, state transitions.
// INFO: startup and shutdown, successful clears, sessions becoming ready.
// WARN: retryable storage errors, rate limiting, membership enforcement off.
// ERROR: failed provider calls, failed token signing, failed bootstraps.
// FATAL: missing required configuration at startup.
//
// Message patterns: "Starting [operation]", "Failed to [operation]",
// "[Service] request completed".
