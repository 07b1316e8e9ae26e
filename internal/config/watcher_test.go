package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pingup/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestConfigWatcher_Start_InvalidPath(t *testing.T) {
	cw := NewConfigWatcher("../nope.json", time.Millisecond, quietLogger())
	assert.Error(t, cw.Start(context.Background()))
}

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validConfig)
	cw := NewConfigWatcher(path, 10*time.Millisecond, quietLogger())

	var calls atomic.Int32
	var lastLevel atomic.Value
	cw.OnConfigChange(func(c *models.Config) {
		calls.Add(1)
		lastLevel.Store(c.LogLevel)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cw.Start(ctx) }()

	require.Eventually(t, func() bool { return cw.GetConfig() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "info", cw.GetConfig().LogLevel)

	updated := strings.Replace(validConfig, `"log_level": "info"`, `"log_level": "warn"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "warn", lastLevel.Load())
	assert.Equal(t, "warn", cw.GetConfig().LogLevel)

	cancel()
	assert.NoError(t, <-done)
}

func TestConfigWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, validConfig)
	cw := NewConfigWatcher(path, time.Hour, quietLogger())
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cw.config = cfg

	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0600))
	cw.reloadConfig()

	assert.Same(t, cfg, cw.GetConfig())
}

func TestConfigWatcher_CallbackPanicIsContained(t *testing.T) {
	path := writeConfig(t, validConfig)
	cw := NewConfigWatcher(path, time.Hour, quietLogger())

	called := false
	cw.OnConfigChange(func(*models.Config) { panic("boom") })
	cw.OnConfigChange(func(*models.Config) { called = true })

	assert.NotPanics(t, cw.reloadConfig)
	assert.True(t, called)
}
