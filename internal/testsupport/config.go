package testsupport

import (
	"path/filepath"
	"testing"

	"gradi/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It selects the in-memory queue and a filesystem object store, long-polls for
// one second and makes unacknowledged messages visible again immediately so
// redelivery loops finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Queue.Backend = config.QueueMemory
	cfgVal.Queue.WaitSeconds = 1
	cfgVal.Queue.VisibilityTimeout = 0
	cfgVal.Queue.DLQMaxReceiveCount = 100
	cfgVal.Storage.Backend = config.StorageFilesystem
	cfgVal.Storage.Root = filepath.Join(base, "objects")
	cfgVal.Vision.Provider = config.VisionNone
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Workflow.ErrorRetryInterval = 0
	cfgVal.Workflow.ShutdownTimeout = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithVisibilityTimeout overrides the receive visibility timeout in seconds.
func WithVisibilityTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.VisibilityTimeout = seconds
	}
}

// WithMaxRosterWait overrides the bounded roster and answer key wait.
func WithMaxRosterWait(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRosterWait = attempts
	}
}

// WithStatePersistence enables the sqlite exam snapshot under the temp dir.
func WithStatePersistence() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.State.Persist = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WithAPIToken requires the given bearer token on the HTTP surface.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}
