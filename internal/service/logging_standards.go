package service

// Standard field names for structured logging. Use these exact names so
// log queries work across handlers, services and the workflow engine.
const (
	// Core identifiers
	LogFieldUserID       = "user_id"
	LogFieldSenderID     = "sender_id"
	LogFieldRecipientID  = "recipient_id"
	LogFieldMessageID    = "message_id"
	LogFieldConnectionID = "connection_id"
	LogFieldRunID        = "run_id"
	LogFieldStep         = "step"
	LogFieldWorkflow     = "workflow"
	LogFieldStreamID     = "stream_id"

	// Request correlation
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Message fields
	LogFieldMessageType = "message_type"
	LogFieldTransport   = "transport" // "sse" or "websocket"
	LogFieldPushResult  = "push_result"

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

	// Media
	LogFieldMediaType = "media_type"
	LogFieldFileName  = "file_name"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
)

// Log level usage
//
// DEBUG: stream frames, memoized step replays, request details.
// INFO:  startup/shutdown, stream open/close, runs started/completed.
// WARN:  retryable errors, dropped pushes, superseded streams, skipped reminders.
// ERROR: failed sends, failed runs, collaborator errors after retries.
// FATAL: configuration or database unavailable at startup.
//
// Message patterns: "Starting [operation]", "Completed [operation]",
// "Failed to [operation]", "Retrying [operation]", "Skipping [operation]: [reason]".
