package features

import (
	"sort"
	"sync"
	"time"
)

// Flag represents a feature flag with metadata
type Flag struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FlagManager manages feature flags with thread-safe operations
type FlagManager struct {
	flags map[string]*Flag
	mu    sync.RWMutex
	now   func() time.Time
}

const (
	FlagWebSocketStreams = "websocket_streams"
	FlagImageUploads     = "image_uploads"
	FlagEmailReminders   = "email_reminders"
	FlagSendRateLimiting = "send_rate_limiting"
)

// FlagDefinition contains metadata about a flag
type FlagDefinition struct {
	Name         string
	Description  string
	DefaultValue bool
}

// DefaultFlags defines all available feature flags with their defaults
var DefaultFlags = []FlagDefinition{
	{FlagWebSocketStreams, "Accept live streams over WebSocket in addition to SSE", true},
	{FlagImageUploads, "Accept image attachments on send", true},
	{FlagEmailReminders, "Start reminder workflows for connection request events", true},
	{FlagSendRateLimiting, "Apply the per-user send rate limit", true},
}

// NewFlagManager creates a flag manager holding the default flags.
func NewFlagManager() *FlagManager {
	fm := &FlagManager{
		flags: make(map[string]*Flag, len(DefaultFlags)),
		now:   time.Now,
	}

	now := fm.now()
	for _, def := range DefaultFlags {
		fm.flags[def.Name] = &Flag{
			Name:        def.Name,
			Enabled:     def.DefaultValue,
			Description: def.Description,
			UpdatedAt:   now,
		}
	}
	return fm
}

// IsEnabled reports whether a flag is on. Unknown flags are off.
func (fm *FlagManager) IsEnabled(flagName string) bool {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return false
	}
	return flag.Enabled
}

// Enable enables a feature flag
func (fm *FlagManager) Enable(flagName string) error {
	return fm.set(flagName, true)
}

// Disable disables a feature flag
func (fm *FlagManager) Disable(flagName string) error {
	return fm.set(flagName, false)
}

func (fm *FlagManager) set(flagName string, enabled bool) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return ErrFlagNotFound{Name: flagName}
	}
	if flag.Enabled != enabled {
		flag.Enabled = enabled
		flag.UpdatedAt = fm.now()
	}
	return nil
}

// GetFlag returns a copy of the flag information
func (fm *FlagManager) GetFlag(flagName string) (Flag, error) {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	flag, exists := fm.flags[flagName]
	if !exists {
		return Flag{}, ErrFlagNotFound{Name: flagName}
	}
	return *flag, nil
}

// ListFlags returns copies of all flags sorted by name.
func (fm *FlagManager) ListFlags() []Flag {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	result := make([]Flag, 0, len(fm.flags))
	for _, flag := range fm.flags {
		result = append(result, *flag)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

type ErrFlagNotFound struct {
	Name string
}

func (e ErrFlagNotFound) Error() string {
	return "feature flag not found: " + e.Name
}
