package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig    `json:"server"`
	Database DatabaseConfig  `json:"database"`
	Auth     AuthConfig      `json:"auth"`
	Storage  StorageConfig   `json:"storage"`
	Email    EmailConfig     `json:"email"`
	Media    MediaConfig     `json:"media"`
	Retry    RetryConfig     `json:"retry"`
	Workflow WorkflowConfig  `json:"workflow"`
	Tracing  TracingConfig   `json:"tracing"`
	Features map[string]bool `json:"features"`
	LogLevel string          `json:"log_level"`
}

// ServerConfig holds HTTP server configurations
type ServerConfig struct {
	Port               int      `json:"port"`
	ReadTimeoutSec     int      `json:"readTimeoutSec"`
	WriteTimeoutSec    int      `json:"writeTimeoutSec"`
	IdleTimeoutSec     int      `json:"idleTimeoutSec"`
	AllowedOrigins     []string `json:"allowedOrigins"`
	StreamBufferSize   int      `json:"streamBufferSize"`
	StreamHeartbeatSec int      `json:"streamHeartbeatSec"`
	SendRatePerSec     float64  `json:"sendRatePerSec"`
	SendBurst          int      `json:"sendBurst"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AuthConfig configures bearer token validation. Tokens are issued by the
// identity provider; this service only verifies them.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

// StorageConfig configures the media storage collaborator
type StorageConfig struct {
	UploadURL      string `json:"upload_url"`
	APIKey         string `json:"api_key"`
	Folder         string `json:"folder"`
	Transformation string `json:"transformation"`
	TimeoutSec     int    `json:"timeoutSec"`
}

// EmailConfig configures the email collaborator
type EmailConfig struct {
	APIURL     string `json:"api_url"`
	APIKey     string `json:"api_key"`
	Sender     string `json:"sender"`
	AppURL     string `json:"app_url"`
	TimeoutSec int    `json:"timeoutSec"`
}

// MediaConfig holds media related configurations
type MediaConfig struct {
	MaxImageSizeMB int      `json:"maxImageSizeMB"`
	AllowedTypes   []string `json:"allowedTypes"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// WorkflowConfig holds durable workflow engine configurations
type WorkflowConfig struct {
	PollIntervalMs     int    `json:"pollIntervalMs"`
	LeaseSec           int    `json:"leaseSec"`
	Concurrency        int    `json:"concurrency"`
	ReminderDelayHours int    `json:"reminderDelayHours"`
	CleanupSchedule    string `json:"cleanupSchedule"`
	RetentionDays      int    `json:"retentionDays"`
	FailedRunCheckSec  int    `json:"failedRunCheckSec"`
	EventsSecret       string `json:"events_secret"`
}

// TracingConfig holds OpenTelemetry configurations
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
