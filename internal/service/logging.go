package service

import (
	"context"

	"chatbridge/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx for verbose logging
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeUserID masks a user id unless verbose logging is on
func SanitizeUserID(ctx context.Context, userID string) string {
	if IsVerboseLogging(ctx) {
		return userID
	}
	return privacy.MaskUserID(userID)
}

// SanitizeChannelID masks a channel id unless verbose logging is on
func SanitizeChannelID(ctx context.Context, channelID string) string {
	if IsVerboseLogging(ctx) {
		return channelID
	}
	return privacy.MaskChannelID(channelID)
}

// SanitizeContent hides message text; it is never logged
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// LogFields converts masked fields into logrus.Fields
func LogFields(fields map[string]interface{}) logrus.Fields {
	masked := privacy.MaskSensitiveFields(fields)
	out := make(logrus.Fields, len(masked))
	for k, v := range masked {
		out[k] = v
	}
	return out
}
