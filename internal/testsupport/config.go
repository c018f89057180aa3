package testsupport

import (
	"path/filepath"
	"testing"

	"tally/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are shrunk so backoff-driven tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Sync.BaseRetryDelayMS = 1
	cfg.Sync.MaxRetryDelayMS = 8

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithMaxRetries overrides the retry bound on the test config.
func WithMaxRetries(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.MaxRetries = n
	}
}

// WithOperationTimeout sets the per-operation timeout in seconds.
func WithOperationTimeout(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.OperationTimeout = seconds
	}
}
