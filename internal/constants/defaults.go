package constants

// Default server configuration values
const (
	DefaultServerPort            = 5003
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 0 // streams are long-lived
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxRequestBodyMB      = 10
)

// Default live stream values
const (
	DefaultStreamBufferSize   = 32
	DefaultStreamHeartbeatSec = 25
	DefaultSendRatePerSec     = 5.0
	DefaultSendBurst          = 10
)

// Default retry values
const (
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultBackoffInitialMs       = 500
	DefaultBackoffMaxSec          = 5
	DefaultStartupDBRetryAttempts = 5
)

// Default workflow engine values
const (
	DefaultWorkflowPollIntervalMs = 1000
	DefaultWorkflowLeaseSec       = 120
	DefaultWorkflowConcurrency    = 8
	DefaultReminderDelayHours     = 24
	DefaultCleanupSchedule        = "@daily"
	DefaultRetentionDays          = 30
	DefaultFailedRunCheckSec      = 300
)

// Default directory cache values
const (
	DefaultProfileCacheMinutes = 10
)

// Default media values
const (
	DefaultMaxImageSizeMB    = 5
	DefaultImageStorageDir   = "/pingup/messages"
	DefaultImageTransform    = "q-auto,f-webp,w-1280"
	DefaultMaxTextLength     = 5000
	DefaultStorageTimeoutSec = 30
	DefaultEmailTimeoutSec   = 15
)

// Privacy settings
const (
	DefaultIDMaskLength = 4
)

// Workflow types
const (
	WorkflowConnectionRequestReminder = "connection-request-reminder"
)

// Input limits
const (
	MaxUserIDLength       = 128
	MaxConnectionIDLength = 128
	MaxEventIDLength      = 128
	BytesPerMegabyte      = 1024 * 1024
)
