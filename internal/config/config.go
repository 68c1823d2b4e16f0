package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Queue describes the durable queue topology the worker consumes and publishes to.
type Queue struct {
	Backend            string `toml:"backend"`
	InputURL           string `toml:"input_url"`
	OutputURL          string `toml:"output_url"`
	FallbackURL        string `toml:"fallback_url"`
	DLQURL             string `toml:"dlq_url"`
	Region             string `toml:"region"`
	Endpoint           string `toml:"endpoint"`
	WaitSeconds        int    `toml:"wait_seconds"`
	VisibilityTimeout  int    `toml:"visibility_timeout"`
	MaxMessages        int    `toml:"max_messages"`
	DLQMaxReceiveCount int    `toml:"dlq_max_receive_count"`
}

// Redis contains connection settings for the redis queue backend.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	Namespace string `toml:"namespace"`
}

// Storage contains object store settings.
type Storage struct {
	Backend         string `toml:"backend"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Root            string `toml:"root"`
	DownloadTimeout int    `toml:"download_timeout"`
}

// Recognition contains settings for the inference service and the resolution pipeline.
type Recognition struct {
	BaseURL                  string  `toml:"base_url"`
	TimeoutSeconds           int     `toml:"timeout_seconds"`
	ConfidenceThreshold      float64 `toml:"confidence_threshold"`
	HeaderMargin             int     `toml:"header_margin"`
	AllowEditDistance1       bool    `toml:"allow_edit_distance_1"`
	AnswerFallbackConfidence float64 `toml:"answer_fallback_confidence"`
}

// Vision contains settings for the vision-language fallback recognizer.
type Vision struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains worker loop timing and retry policy.
type Workflow struct {
	MaxRosterWait      int `toml:"max_roster_wait"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	ShutdownTimeout    int `toml:"shutdown_timeout"`
	BatchConcurrency   int `toml:"batch_concurrency"`
	BatchRatePerSecond int `toml:"batch_rate_per_second"`
}

// State controls whether exam state survives restarts.
type State struct {
	Persist bool `toml:"persist"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for the gradi worker and CLI.
//
// Configuration sections by subsystem:
//   - Paths: log and state directories, HTTP bind address
//   - Queue: input/output/fallback/dead-letter queues and polling
//   - Redis: connection for the redis queue backend
//   - Storage: object store backend and download limits
//   - Recognition: inference service and pipeline thresholds
//   - Vision: vision-language fallback provider
//   - Workflow: roster wait bound, retry pause, shutdown join, batch limits
//   - State: exam state persistence
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Redis         Redis         `toml:"redis"`
	Storage       Storage       `toml:"storage"`
	Recognition   Recognition   `toml:"recognition"`
	Vision        Vision        `toml:"vision"`
	Workflow      Workflow      `toml:"workflow"`
	State         State         `toml:"state"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/gradi/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("gradi.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the worker writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir}
	if c.State.Persist {
		dirs = append(dirs, c.Paths.StateDir)
	}
	if c.Storage.Backend == StorageFilesystem {
		dirs = append(dirs, c.Storage.Root)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateDBPath returns the sqlite file used when exam state persistence is enabled.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.StateDir, "exams.db")
}

// WaitTime returns the long-poll wait as a duration.
func (c *Config) WaitTime() time.Duration {
	return time.Duration(c.Queue.WaitSeconds) * time.Second
}

// VisibilityTimeout returns the receive visibility timeout as a duration.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeout) * time.Second
}

// VisionTimeout returns the bounded timeout for a single vision fallback call.
func (c *Config) VisionTimeout() time.Duration {
	return time.Duration(c.Vision.TimeoutSeconds) * time.Second
}

// RecognitionTimeout returns the per-request timeout for the inference service.
func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.Recognition.TimeoutSeconds) * time.Second
}

// DownloadTimeout returns the per-object download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Storage.DownloadTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
