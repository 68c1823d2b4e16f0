package config

// Queue backends.
const (
	QueueSQS    = "sqs"
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// Storage backends.
const (
	StorageS3         = "s3"
	StorageFilesystem = "filesystem"
)

// Vision providers.
const (
	VisionNone   = "none"
	VisionGemini = "gemini"
	VisionOpenAI = "openai"
)

const (
	defaultLogDir                   = "~/.local/share/gradi/logs"
	defaultStateDir                 = "~/.local/share/gradi/state"
	defaultStorageRoot              = "~/.local/share/gradi/objects"
	defaultAPIBind                  = "127.0.0.1:8000"
	defaultRegion                   = "ap-northeast-2"
	defaultWaitSeconds              = 20
	defaultVisibilityTimeout        = 300
	defaultMaxMessages              = 1
	defaultDLQMaxReceiveCount       = 3
	defaultRedisAddr                = "127.0.0.1:6379"
	defaultRedisNamespace           = "gradi"
	defaultDownloadTimeout          = 30
	defaultRecognitionBaseURL       = "http://127.0.0.1:8866"
	defaultRecognitionTimeout       = 30
	defaultConfidenceThreshold      = 0.6
	defaultHeaderMargin             = 2
	defaultAnswerFallbackConfidence = 0.7
	defaultGeminiModel              = "gemini-2.0-flash"
	defaultOpenAIModel              = "gpt-4o-mini"
	defaultOpenAIBaseURL            = "https://api.openai.com/v1/chat/completions"
	defaultVisionTimeout            = 10
	defaultMaxRosterWait            = 5
	defaultErrorRetryInterval       = 5
	defaultShutdownTimeout          = 25
	defaultBatchConcurrency         = 2
	defaultBatchRatePerSecond       = 2
	defaultNotifyRequestTimeout     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Backend:            QueueSQS,
			Region:             defaultRegion,
			WaitSeconds:        defaultWaitSeconds,
			VisibilityTimeout:  defaultVisibilityTimeout,
			MaxMessages:        defaultMaxMessages,
			DLQMaxReceiveCount: defaultDLQMaxReceiveCount,
		},
		Redis: Redis{
			Addr:      defaultRedisAddr,
			Namespace: defaultRedisNamespace,
		},
		Storage: Storage{
			Backend:         StorageS3,
			Region:          defaultRegion,
			Root:            defaultStorageRoot,
			DownloadTimeout: defaultDownloadTimeout,
		},
		Recognition: Recognition{
			BaseURL:                  defaultRecognitionBaseURL,
			TimeoutSeconds:           defaultRecognitionTimeout,
			ConfidenceThreshold:      defaultConfidenceThreshold,
			HeaderMargin:             defaultHeaderMargin,
			AllowEditDistance1:       true,
			AnswerFallbackConfidence: defaultAnswerFallbackConfidence,
		},
		Vision: Vision{
			Provider:       VisionNone,
			TimeoutSeconds: defaultVisionTimeout,
		},
		Workflow: Workflow{
			MaxRosterWait:      defaultMaxRosterWait,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ShutdownTimeout:    defaultShutdownTimeout,
			BatchConcurrency:   defaultBatchConcurrency,
			BatchRatePerSecond: defaultBatchRatePerSecond,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
