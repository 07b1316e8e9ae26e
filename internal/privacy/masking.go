package privacy

import (
	"fmt"
	"strings"

	"pingup/internal/constants"
)

// MaskUserID keeps only the trailing characters of a user id
// Example: "user_2abcXYZ91" -> "**********YZ91"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultIDMaskLength)
}

// MaskEmail hides the local part except its first character
// Example: "alice@example.com" -> "a****@example.com"
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return maskString(email, 0)
	}
	if len(local) <= 1 {
		return strings.Repeat("*", len(local)) + "@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}

// MaskText replaces message content with its length
func MaskText(text string) string {
	if text == "" {
		return ""
	}
	return fmt.Sprintf("[%d chars]", len([]rune(text)))
}

// MaskURL keeps scheme and host and hides the path and query
// Example: "https://cdn.example.com/pingup/messages/a.png?tr=w-1280" -> "https://cdn.example.com/***"
func MaskURL(url string) string {
	if url == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return "***"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/***"
}

func maskString(s string, visible int) string {
	if s == "" {
		return ""
	}
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
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
		case "user_id", "sender_id", "recipient_id", "from_user_id", "to_user_id", "requester_id", "target_id":
			masked[k] = MaskUserID(s)
		case "email", "to":
			masked[k] = MaskEmail(s)
		case "text", "subject":
			masked[k] = MaskText(s)
		case "media_url", "url":
			masked[k] = MaskURL(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
