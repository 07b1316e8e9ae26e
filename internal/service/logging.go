package service

import (
	"context"

	"pingup/internal/privacy"
	"pingup/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey marks a context whose logs may carry unmasked identifiers
const VerboseContextKey ContextKey = "verbose"

// WithVerbose returns ctx with the verbose logging flag set.
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

// SanitizeUserID masks a user id unless verbose logging is on.
func SanitizeUserID(ctx context.Context, userID string) string {
	if IsVerboseLogging(ctx) {
		return userID
	}
	return privacy.MaskUserID(userID)
}

// SanitizeEmail masks an email address unless verbose logging is on.
func SanitizeEmail(ctx context.Context, email string) string {
	if IsVerboseLogging(ctx) {
		return email
	}
	return privacy.MaskEmail(email)
}

// SanitizeContent hides message content. Message text is never logged,
// verbose or not.
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	return "[hidden]"
}

// LogWithContext returns an entry carrying the request and trace ids found
// in ctx so service logs correlate with the HTTP access log.
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{}
	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		fields[LogFieldRequestID] = requestID
	}
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		fields[LogFieldTraceID] = traceID
	}
	return logger.WithFields(fields)
}

// MaskedFields applies privacy masking to fields before they are logged.
func MaskedFields(fields map[string]interface{}) logrus.Fields {
	return logrus.Fields(privacy.MaskSensitiveFields(fields))
}
