package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"pingup/internal/constants"
	"pingup/internal/features"
	"pingup/internal/models"
	"pingup/internal/security"
	"pingup/internal/validation"

	"github.com/adhocore/gronx"
)

var (
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingStorageURL = models.ConfigError{Message: "missing media storage upload URL"}
	ErrMissingEmailURL   = models.ConfigError{Message: "missing email API URL"}
	ErrMissingSender     = models.ConfigError{Message: "missing email sender address"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Storage.UploadURL == "" {
		return ErrMissingStorageURL
	}
	if c.Email.APIURL == "" {
		return ErrMissingEmailURL
	}
	if c.Email.Sender == "" {
		return ErrMissingSender
	}
	if err := features.ValidateConfig(c.Features); err != nil {
		return models.ConfigError{Message: err.Error()}
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.StreamBufferSize <= 0 {
		c.Server.StreamBufferSize = constants.DefaultStreamBufferSize
	}
	if c.Server.StreamHeartbeatSec <= 0 {
		c.Server.StreamHeartbeatSec = constants.DefaultStreamHeartbeatSec
	}
	if c.Server.SendRatePerSec <= 0 {
		c.Server.SendRatePerSec = constants.DefaultSendRatePerSec
	}
	if c.Server.SendBurst <= 0 {
		c.Server.SendBurst = constants.DefaultSendBurst
	}

	if c.Storage.Folder == "" {
		c.Storage.Folder = constants.DefaultImageStorageDir
	}
	if c.Storage.Transformation == "" {
		c.Storage.Transformation = constants.DefaultImageTransform
	}
	if c.Storage.TimeoutSec <= 0 {
		c.Storage.TimeoutSec = constants.DefaultStorageTimeoutSec
	}
	if c.Email.TimeoutSec <= 0 {
		c.Email.TimeoutSec = constants.DefaultEmailTimeoutSec
	}

	if c.Media.MaxImageSizeMB <= 0 {
		c.Media.MaxImageSizeMB = constants.DefaultMaxImageSizeMB
	}
	if len(c.Media.AllowedTypes) == 0 {
		c.Media.AllowedTypes = constants.DefaultImageTypes
	}
	for _, ext := range c.Media.AllowedTypes {
		if _, ok := constants.ImageMimeTypes[ext]; !ok {
			return models.ConfigError{Message: fmt.Sprintf("unsupported image type in media.allowedTypes: %s", ext)}
		}
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return models.ConfigError{Message: "retry.maxBackoffMs must not be smaller than retry.initialBackoffMs"}
	}

	if c.Workflow.PollIntervalMs <= 0 {
		c.Workflow.PollIntervalMs = constants.DefaultWorkflowPollIntervalMs
	}
	if c.Workflow.LeaseSec <= 0 {
		c.Workflow.LeaseSec = constants.DefaultWorkflowLeaseSec
	}
	if c.Workflow.Concurrency <= 0 {
		c.Workflow.Concurrency = constants.DefaultWorkflowConcurrency
	}
	if c.Workflow.ReminderDelayHours <= 0 {
		c.Workflow.ReminderDelayHours = constants.DefaultReminderDelayHours
	}
	if c.Workflow.RetentionDays <= 0 {
		c.Workflow.RetentionDays = constants.DefaultRetentionDays
	}
	if err := validation.ValidateRetentionDays(c.Workflow.RetentionDays); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid workflow.retentionDays: %v", err)}
	}
	if c.Workflow.FailedRunCheckSec <= 0 {
		c.Workflow.FailedRunCheckSec = constants.DefaultFailedRunCheckSec
	}
	if c.Workflow.CleanupSchedule == "" {
		c.Workflow.CleanupSchedule = constants.DefaultCleanupSchedule
	}
	if !gronx.IsValid(c.Workflow.CleanupSchedule) {
		return models.ConfigError{Message: fmt.Sprintf("invalid workflow.cleanupSchedule: %q", c.Workflow.CleanupSchedule)}
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pingup"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("PINGUP_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// SECURITY: secrets should be set via environment variables
	if secret := os.Getenv("PINGUP_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if key := os.Getenv("PINGUP_STORAGE_API_KEY"); key != "" {
		c.Storage.APIKey = key
	}
	if key := os.Getenv("PINGUP_EMAIL_API_KEY"); key != "" {
		c.Email.APIKey = key
	}
	if secret := os.Getenv("PINGUP_EVENTS_SECRET"); secret != "" {
		c.Workflow.EventsSecret = secret
	}
	if url := os.Getenv("PINGUP_APP_URL"); url != "" {
		c.Email.AppURL = url
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}
}

// IsProduction reports whether PINGUP_ENV selects production mode.
func IsProduction() bool {
	return os.Getenv("PINGUP_ENV") == "production"
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		if len(c.Auth.JWTSecret) < 32 {
			return models.ConfigError{Message: "JWT secret must be at least 32 characters long in production (set PINGUP_JWT_SECRET)"}
		}
		if len(c.Workflow.EventsSecret) < 32 {
			return models.ConfigError{Message: "events secret must be at least 32 characters long in production (set PINGUP_EVENTS_SECRET)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		return nil
	}

	if c.Auth.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: JWT secret not set, bearer tokens cannot be verified. Set PINGUP_JWT_SECRET.\n")
	}
	if c.Workflow.EventsSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: events secret not set, domain event signatures are not checked. Set PINGUP_EVENTS_SECRET.\n")
	}
	return nil
}
