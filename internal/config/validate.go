package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case QueueSQS:
		// Queue URLs are checked by the commands that need them so that
		// offline commands such as `config init` keep working.
	case QueueRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr must be set when queue.backend is redis")
		}
	case QueueMemory:
	default:
		return fmt.Errorf("queue.backend: unsupported value %q (want sqs, redis, or memory)", c.Queue.Backend)
	}
	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		return errors.New("queue.max_messages must be between 1 and 10")
	}
	if c.Queue.WaitSeconds < 0 || c.Queue.WaitSeconds > 20 {
		return errors.New("queue.wait_seconds must be between 0 and 20")
	}
	return ensurePositiveMap(map[string]int{
		"queue.visibility_timeout":    c.Queue.VisibilityTimeout,
		"queue.dlq_max_receive_count": c.Queue.DLQMaxReceiveCount,
	})
}

// RequireQueues reports an error when the queues the worker needs are not configured.
func (c *Config) RequireQueues() error {
	if c.Queue.Backend != QueueSQS {
		return nil
	}
	if strings.TrimSpace(c.Queue.InputURL) == "" {
		return errors.New("queue.input_url is required (set SQS_INPUT_QUEUE_URL or edit the config file)")
	}
	if strings.TrimSpace(c.Queue.OutputURL) == "" {
		return errors.New("queue.output_url is required (set SQS_OUTPUT_QUEUE_URL or edit the config file)")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageS3, StorageFilesystem:
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want s3 or filesystem)", c.Storage.Backend)
	}
	if c.Storage.DownloadTimeout <= 0 {
		return errors.New("storage.download_timeout must be positive (seconds)")
	}
	return nil
}

// RequireBucket reports an error when the s3 backend has no bucket.
func (c *Config) RequireBucket() error {
	if c.Storage.Backend == StorageS3 && strings.TrimSpace(c.Storage.Bucket) == "" {
		return errors.New("storage.bucket is required when storage.backend is s3 (set S3_BUCKET)")
	}
	return nil
}

func (c *Config) validateRecognition() error {
	if err := ensureUnitInterval("recognition.confidence_threshold", c.Recognition.ConfidenceThreshold); err != nil {
		return err
	}
	if err := ensureUnitInterval("recognition.answer_fallback_confidence", c.Recognition.AnswerFallbackConfidence); err != nil {
		return err
	}
	if c.Recognition.HeaderMargin < 0 {
		return errors.New("recognition.header_margin must not be negative")
	}
	if c.Recognition.TimeoutSeconds <= 0 {
		return errors.New("recognition.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateVision() error {
	switch c.Vision.Provider {
	case VisionNone:
		return nil
	case VisionGemini, VisionOpenAI:
	default:
		return fmt.Errorf("vision.provider: unsupported value %q (want none, gemini, or openai)", c.Vision.Provider)
	}
	if strings.TrimSpace(c.Vision.APIKey) == "" {
		return fmt.Errorf("vision.api_key must be set when vision.provider is %s", c.Vision.Provider)
	}
	if c.Vision.TimeoutSeconds <= 0 {
		return errors.New("vision.timeout_seconds must be positive")
	}
	if c.Vision.TimeoutSeconds >= c.Queue.VisibilityTimeout {
		return errors.New("vision.timeout_seconds must be shorter than queue.visibility_timeout")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.max_roster_wait":       c.Workflow.MaxRosterWait,
		"workflow.error_retry_interval":  c.Workflow.ErrorRetryInterval,
		"workflow.shutdown_timeout":      c.Workflow.ShutdownTimeout,
		"workflow.batch_concurrency":     c.Workflow.BatchConcurrency,
		"workflow.batch_rate_per_second": c.Workflow.BatchRatePerSecond,
		"notifications.request_timeout":  c.Notifications.RequestTimeout,
	})
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func ensureUnitInterval(key string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be between 0 and 1", key)
	}
	return nil
}
