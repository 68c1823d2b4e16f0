package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gradi/internal/config"
	"gradi/internal/daemon"
	"gradi/internal/examstate"
	"gradi/internal/logging"
	"gradi/internal/notifications"
	"gradi/internal/objectstore"
	"gradi/internal/pipeline"
	"gradi/internal/queue"
	"gradi/internal/recognition"
	"gradi/internal/recognition/gemini"
	"gradi/internal/recognition/openai"
	"gradi/internal/roster"
	"gradi/internal/workflow"
)

const pingTimeout = 5 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the gradi worker and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.RequireQueues(); err != nil {
		return err
	}
	if err := cfg.RequireBucket(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("gradi-%s.log", runID))
	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update gradi.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "gradi-*.log", Exclude: []string{logPath}},
	)

	pidPath := filepath.Join(cfg.Paths.LogDir, "gradid.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	state, closeState, err := openState(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open exam state", logging.Error(err))
		return err
	}
	defer closeState()

	topo, err := queue.Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open queues", logging.Error(err))
		return err
	}
	defer topo.Close()

	objects, err := openObjects(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open object store", logging.Error(err))
		return err
	}

	sidecar := recognition.NewClient(recognition.Config{
		BaseURL:        cfg.Recognition.BaseURL,
		TimeoutSeconds: cfg.Recognition.TimeoutSeconds,
	}, logger)
	vision, closeVision, err := openVision(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open vision fallback", logging.Error(err))
		return err
	}
	defer closeVision()

	resolver := pipeline.New(sidecar, sidecar, vision, pipeline.Config{
		ConfidenceThreshold: cfg.Recognition.ConfidenceThreshold,
		HeaderMargin:        cfg.Recognition.HeaderMargin,
		AllowFuzzy:          cfg.Recognition.AllowEditDistance1,
		VisionTimeout:       cfg.VisionTimeout(),
	}, logger)
	logDependencySnapshot(signalCtx, logger, cfg, sidecar)

	manager := workflow.NewManager(cfg, workflow.Deps{
		Topology: topo,
		State:    state,
		Fetcher:  objectstore.NewFetcher(objects, cfg.DownloadTimeout()),
		Objects:  objects,
		Roster:   roster.NewParser(logger),
		Resolver: resolver,
		Answers:  sidecar,
		Notifier: notifications.NewService(cfg),
	}, logger)

	d, err := daemon.New(cfg, manager, state, objects, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue configuration, api_bind, and the lock in log_dir"),
			logging.String(logging.FieldImpact, "no messages will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("gradi daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func openState(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*examstate.Store, func(), error) {
	if !cfg.State.Persist {
		return examstate.New(examstate.WithLogger(logger)), func() {}, nil
	}
	snap, err := examstate.OpenSQLite(cfg.StateDBPath())
	if err != nil {
		return nil, nil, err
	}
	store := examstate.New(examstate.WithSnapshot(snap), examstate.WithLogger(logger))
	restored, err := store.Restore(ctx)
	if err != nil {
		_ = snap.Close()
		return nil, nil, err
	}
	logger.Info("exam state restored",
		logging.Int("exams", restored),
		logging.String("path", snap.Path()),
		logging.String(logging.FieldEventType, "exam_state_restored"),
	)
	return store, func() { _ = snap.Close() }, nil
}

func openObjects(ctx context.Context, cfg *config.Config, logger *slog.Logger) (objectstore.Store, error) {
	if cfg.Storage.Backend == config.StorageFilesystem {
		return objectstore.NewFilesystem(cfg.Storage.Root)
	}
	return objectstore.NewS3(ctx, objectstore.S3Config{
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		Endpoint: cfg.Storage.Endpoint,
	}, logger)
}

// openVision returns a nil recognizer when the fallback is disabled so the
// resolver reports escalations as vision unavailable.
func openVision(ctx context.Context, cfg *config.Config, logger *slog.Logger) (recognition.VisionRecognizer, func(), error) {
	noop := func() {}
	switch cfg.Vision.Provider {
	case config.VisionGemini:
		r, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.Vision.APIKey,
			Model:   cfg.Vision.Model,
			Timeout: cfg.VisionTimeout(),
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return r, func() { _ = r.Close() }, nil
	case config.VisionOpenAI:
		r, err := openai.New(openai.Config{
			APIKey:  cfg.Vision.APIKey,
			BaseURL: cfg.Vision.BaseURL,
			Model:   cfg.Vision.Model,
			Timeout: cfg.VisionTimeout(),
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	default:
		return nil, noop, nil
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "gradi.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, sidecar *recognition.Client) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	pingErr := sidecar.Ping(pingCtx)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("queue_backend", cfg.Queue.Backend),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("vision_provider", cfg.Vision.Provider),
		logging.Bool("vision_key_present", strings.TrimSpace(cfg.Vision.APIKey) != ""),
		logging.Bool("fallback_queue", strings.TrimSpace(cfg.Queue.FallbackURL) != "" || cfg.Queue.Backend != config.QueueSQS),
		logging.Bool("state_persist", cfg.State.Persist),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("sidecar_reachable", pingErr == nil),
	}
	if pingErr != nil {
		attrs = append(attrs, logging.String("sidecar_error", pingErr.Error()))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
