package workflow

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"gradi/internal/config"
	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/logging"
	"gradi/internal/notifications"
	"gradi/internal/objectstore"
	"gradi/internal/pipeline"
	"gradi/internal/queue"
	"gradi/internal/recognition"
	"gradi/internal/roster"
	"gradi/internal/stage"
	"gradi/internal/studentid"
)

// Fetcher downloads the object behind a message download reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Resolver identifies the student on one scanned page.
type Resolver interface {
	Resolve(ctx context.Context, img image.Image, roster studentid.Roster) pipeline.Outcome
	HasVision() bool
}

// Deps bundles the collaborators the Manager drives.
type Deps struct {
	Topology *queue.Topology
	State    *examstate.Store
	Fetcher  Fetcher
	Objects  objectstore.Store
	Roster   roster.Parser
	Resolver Resolver
	Answers  recognition.AnswerRecognizer
	Notifier notifications.Service
}

// Manager coordinates queue consumption using registered event handlers.
type Manager struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	notifier notifications.Service

	handlers map[events.EventType]stage.Handler
	order    []events.EventType
	batches  *batchRunner

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	abort     context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastEvent *MessageSummary
	counts    map[string]int
}

// NewManager constructs a workflow manager and registers the event handlers.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	logger = logging.NewComponentLogger(logger, "workflow")
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		notifier: notifier,
		handlers: make(map[events.EventType]stage.Handler),
		counts:   make(map[string]int),
	}

	out := newPublisher(deps.Topology)
	wait := waitPolicy{state: deps.State, max: cfg.Workflow.MaxRosterWait}
	answers := &answerProcessor{
		objects:   deps.Objects,
		answers:   deps.Answers,
		out:       out,
		threshold: cfg.Recognition.AnswerFallbackConfidence,
		logger:    logger,
	}
	m.batches = &batchRunner{
		objects:     deps.Objects,
		processor:   answers,
		notifier:    notifier,
		concurrency: cfg.Workflow.BatchConcurrency,
		perSecond:   cfg.Workflow.BatchRatePerSecond,
		logger:      logging.NewComponentLogger(logger, "answer-batch"),
		active:      make(map[string]batchEntry),
	}

	m.register(events.AttendanceUpload, &rosterHandler{
		fetcher:  deps.Fetcher,
		parser:   deps.Roster,
		state:    deps.State,
		notifier: notifier,
		logger:   logger,
	})
	m.register(events.StudentIDRecognition, &recognitionHandler{
		fetcher:  deps.Fetcher,
		objects:  deps.Objects,
		resolver: deps.Resolver,
		state:    deps.State,
		wait:     wait,
		out:      out,
		notifier: notifier,
		logger:   logger,
	})
	m.register(events.AnswerMetadataUpload, &metadataHandler{
		fetcher: deps.Fetcher,
		state:   deps.State,
		batches: m.batches,
		logger:  logger,
	})
	m.register(events.AnswerRecognition, &answerHandler{
		fetcher:   deps.Fetcher,
		state:     deps.State,
		wait:      wait,
		processor: answers,
		out:       out,
		logger:    logger,
	})
	m.register(events.GradingComplete, &completionHandler{logger: logger})
	return m
}

func (m *Manager) register(eventType events.EventType, handler stage.Handler) {
	if _, exists := m.handlers[eventType]; !exists {
		m.order = append(m.order, eventType)
	}
	m.handlers[eventType] = handler
}

func (m *Manager) errorRetryInterval() time.Duration {
	return time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
}

func (m *Manager) shutdownTimeout() time.Duration {
	return time.Duration(m.cfg.Workflow.ShutdownTimeout) * time.Second
}
