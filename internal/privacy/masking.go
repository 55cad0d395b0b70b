package privacy

import (
	"strings"

	"chatbridge/internal/constants"
)

// MaskUserID masks a user identifier
// Example: "64f1a2b3c4d5e6f7a8b9c0d1" -> "********************c0d1"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultIDMaskLength)
}

// MaskChannelID masks each member id of a derived two-party channel id
// Example: "64f1aa-64f2bb" -> "**f1aa-**f2bb"
func MaskChannelID(channelID string) string {
	if channelID == "" {
		return ""
	}

	parts := strings.Split(channelID, "-")
	for i, part := range parts {
		parts[i] = maskString(part, constants.DefaultIDMaskLength)
	}
	return strings.Join(parts, "-")
}

// MaskMessageID masks a message id, keeping the tail for correlation
func MaskMessageID(messageID string) string {
	return maskString(messageID, 8)
}

// MaskToken keeps only the first characters of a credential so two log
// lines can be correlated without leaking anything usable
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	keep := constants.DefaultTokenMaskLength
	if len(token) <= keep*2 {
		return strings.Repeat("*", len(token))
	}
	return token[:keep] + "..." + "[redacted]"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}

		switch k {
		case "user_id", "userId", "target_user_id", "caller":
			masked[k] = MaskUserID(s)
		case "channel_id", "channelId", "channel":
			masked[k] = MaskChannelID(s)
		case "message_id", "messageId":
			masked[k] = MaskMessageID(s)
		case "token", "authorization", "cookie":
			masked[k] = MaskToken(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
