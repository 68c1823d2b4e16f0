package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeRedis()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeRecognition()
	c.normalizeVision()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = envFallback(c.Paths.APIToken, "GRADI_API_TOKEN")
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = QueueSQS
	}
	c.Queue.InputURL = envFallback(c.Queue.InputURL, "SQS_INPUT_QUEUE_URL")
	c.Queue.OutputURL = envFallback(c.Queue.OutputURL, "SQS_OUTPUT_QUEUE_URL")
	c.Queue.FallbackURL = envFallback(c.Queue.FallbackURL, "SQS_FALLBACK_QUEUE_URL")
	c.Queue.DLQURL = envFallback(c.Queue.DLQURL, "SQS_DLQ_URL")
	c.Queue.Region = envFallback(c.Queue.Region, "AWS_REGION")
	c.Queue.Endpoint = strings.TrimSpace(c.Queue.Endpoint)
	if value, ok := os.LookupEnv("DLQ_MAX_RECEIVE_COUNT"); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Queue.DLQMaxReceiveCount = parsed
		}
	}
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = envFallback(c.Redis.Addr, "REDIS_ADDR")
	c.Redis.Namespace = strings.TrimSpace(c.Redis.Namespace)
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = defaultRedisNamespace
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageS3
	}
	c.Storage.Bucket = envFallback(c.Storage.Bucket, "S3_BUCKET")
	c.Storage.Region = envFallback(c.Storage.Region, "AWS_REGION")
	if c.Storage.Region == "" {
		c.Storage.Region = c.Queue.Region
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	if strings.TrimSpace(c.Storage.Root) == "" {
		c.Storage.Root = defaultStorageRoot
	}
	var err error
	if c.Storage.Root, err = expandPath(c.Storage.Root); err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecognition() {
	c.Recognition.BaseURL = strings.TrimRight(strings.TrimSpace(c.Recognition.BaseURL), "/")
	if c.Recognition.BaseURL == "" {
		c.Recognition.BaseURL = defaultRecognitionBaseURL
	}
}

func (c *Config) normalizeVision() {
	c.Vision.Provider = strings.ToLower(strings.TrimSpace(c.Vision.Provider))
	if c.Vision.Provider == "" {
		c.Vision.Provider = VisionNone
	}
	c.Vision.BaseURL = strings.TrimSpace(c.Vision.BaseURL)
	c.Vision.Model = strings.TrimSpace(c.Vision.Model)
	switch c.Vision.Provider {
	case VisionGemini:
		c.Vision.APIKey = envFallback(c.Vision.APIKey, "GEMINI_API_KEY")
		if c.Vision.Model == "" {
			c.Vision.Model = defaultGeminiModel
		}
	case VisionOpenAI:
		c.Vision.APIKey = envFallback(c.Vision.APIKey, "OPENAI_API_KEY")
		if c.Vision.Model == "" {
			c.Vision.Model = defaultOpenAIModel
		}
		if c.Vision.BaseURL == "" {
			c.Vision.BaseURL = defaultOpenAIBaseURL
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func envFallback(value, key string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}
