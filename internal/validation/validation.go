package validation

import (
	"fmt"
	"net/http"
	"unicode"
	"unicode/utf8"

	"pingup/internal/constants"
	"pingup/internal/errors"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ValidateUserID checks an opaque user identifier from the identity
// provider: non-empty, bounded and restricted to a safe character set.
func ValidateUserID(field, userID string) error {
	return validateIdentifier(field, userID, constants.MaxUserIDLength)
}

// ValidateConnectionID checks a connection identifier from a domain event.
func ValidateConnectionID(connectionID string) error {
	return validateIdentifier("connectionId", connectionID, constants.MaxConnectionIDLength)
}

// ValidateEventID checks the optional event id used for deduplication.
func ValidateEventID(eventID string) error {
	if eventID == "" {
		return nil
	}
	return validateIdentifier("eventId", eventID, constants.MaxEventIDLength)
}

// ValidateRunID checks that a workflow run id is a UUID.
func ValidateRunID(runID string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return errors.NewValidationError("runId", runID, "run id must be a UUID")
	}
	return nil
}

func validateIdentifier(field, value string, maxLength int) error {
	if value == "" {
		return errors.NewValidationError(field, value, fmt.Sprintf("%s is required", field))
	}
	if len(value) > maxLength {
		return errors.NewValidationError(field, value,
			fmt.Sprintf("%s too long (max %d characters)", field, maxLength))
	}
	for _, char := range value {
		if char > unicode.MaxASCII || !(unicode.IsLetter(char) || unicode.IsDigit(char) || char == '_' || char == '-' || char == '|' || char == ':' || char == '.') {
			return errors.NewValidationError(field, value,
				fmt.Sprintf("%s contains invalid characters", field))
		}
	}
	return nil
}

// ValidateText checks message text. Empty text is allowed; media-only
// messages carry none.
func ValidateText(text string, maxLength int) error {
	if !utf8.ValidString(text) {
		return errors.NewValidationError("text", "", "text must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > maxLength {
		return errors.NewValidationError("text", "",
			fmt.Sprintf("text too long: %d characters (max %d)", n, maxLength))
	}
	for _, char := range text {
		if char == '\x00' {
			return errors.NewValidationError("text", "", "text contains invalid characters")
		}
	}
	return nil
}

// ValidateMediaSize validates an upload against the configured limit.
func ValidateMediaSize(sizeBytes int64, maxSizeMB int) error {
	if sizeBytes <= 0 {
		return errors.NewValidationError("image", "", "media file is empty")
	}

	maxSizeBytes := int64(maxSizeMB) * constants.BytesPerMegabyte
	if sizeBytes > maxSizeBytes {
		return errors.NewValidationError("image", "",
			fmt.Sprintf("media file too large: %s (max %s)",
				humanize.IBytes(uint64(sizeBytes)), humanize.IBytes(uint64(maxSizeBytes))))
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.NewValidationError("body", "",
			fmt.Sprintf("request too large: %s (max %s)",
				humanize.IBytes(uint64(r.ContentLength)), humanize.IBytes(uint64(maxSizeBytes))))
	}
	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}
	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}
	return nil
}
