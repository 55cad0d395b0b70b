package validation

import (
	"fmt"
	"net/http"
	"unicode"

	"chatbridge/internal/constants"
	"chatbridge/internal/errors"
)

// ValidateUserID validates a local/provider user id
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.NewValidationError("userId", userID, "cannot be empty")
	}
	if len(userID) > constants.MaxUserIDLength {
		return errors.NewValidationError("userId", userID,
			fmt.Sprintf("too long (max %d characters)", constants.MaxUserIDLength))
	}
	// Provider user ids: letters, digits, '@', '_' and '-'
	for _, char := range userID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '@' && char != '_' && char != '-' {
			return errors.NewValidationError("userId", userID, "contains invalid characters")
		}
	}
	return nil
}

// ValidateChannelID validates a channel id supplied by a caller
func ValidateChannelID(channelID string) error {
	if channelID == "" {
		return errors.NewValidationError("channelId", channelID, "cannot be empty")
	}
	if len(channelID) > constants.MaxChannelIDLength {
		return errors.NewValidationError("channelId", channelID,
			fmt.Sprintf("too long (max %d characters)", constants.MaxChannelIDLength))
	}
	for _, char := range channelID {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' && char != '!' {
			return errors.NewValidationError("channelId", channelID, "contains invalid characters")
		}
	}
	return nil
}

// ValidateMessageID validates message ID format and length
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}
	return nil
}
