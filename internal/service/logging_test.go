package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatbridge/internal/logging"
)

func TestVerboseContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerboseLogging(ctx))
	assert.True(t, IsVerboseLogging(WithVerbose(ctx, true)))
}

func TestSanitizeIDs(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "****1234", SanitizeUserID(ctx, "user1234"))
	assert.Equal(t, "****1234-****5678", SanitizeChannelID(ctx, "user1234-user5678"))

	verbose := WithVerbose(ctx, true)
	assert.Equal(t, "user1234", SanitizeUserID(verbose, "user1234"))
	assert.Equal(t, "user1234-user5678", SanitizeChannelID(verbose, "user1234-user5678"))
}

func TestSanitizeContent(t *testing.T) {
	assert.Equal(t, "", SanitizeContent(""))
	assert.Equal(t, "[hidden]", SanitizeContent("hello"))
}

func TestLogFields(t *testing.T) {
	fields := LogFields(map[string]interface{}{
		logging.LogFieldUserID:     "user1234",
		logging.LogFieldStatusCode: 200,
	})
	assert.Equal(t, "****1234", fields[logging.LogFieldUserID])
	assert.Equal(t, 200, fields[logging.LogFieldStatusCode])
}
