package workflow

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/logging"
	"gradi/internal/notifications"
	"gradi/internal/roster"
	"gradi/internal/services"
	"gradi/internal/stage"
)

// rosterHandler loads the attendance roster for an exam.
type rosterHandler struct {
	fetcher  Fetcher
	parser   roster.Parser
	state    *examstate.Store
	notifier notifications.Service
	logger   *slog.Logger
}

func (h *rosterHandler) Handle(ctx context.Context, msg events.Inbound) (stage.Outcome, error) {
	if err := stage.RequireDownloadURL(stageRoster, msg); err != nil {
		return stage.Done, err
	}
	if msg.ExamCode == "" {
		return stage.Done, services.Wrap(services.ErrValidation, stageRoster, "validate message", "examCode missing; dropping message", nil)
	}
	logger := logging.WithContext(ctx, h.logger)

	data, err := h.fetcher.Fetch(ctx, msg.DownloadURL)
	if err != nil {
		return stage.Retry, services.Wrap(services.ErrTransient, stageRoster, "download roster", "", err)
	}
	ids, err := h.parser.Parse(ctx, rosterName(msg), data)
	if err != nil {
		return stage.Done, err
	}

	h.state.LoadRoster(ctx, msg.ExamCode, ids)
	logger.Info("roster loaded",
		logging.String(logging.FieldEventType, "roster_loaded"),
		logging.Int("students", len(ids)),
		logging.Int("bytes", len(data)),
	)
	if err := h.notifier.NotifyRosterLoaded(ctx, msg.ExamCode, len(ids)); err != nil {
		logNotifyFailure(logger, "roster loaded", err)
	}
	return stage.Done, nil
}

func (h *rosterHandler) HealthCheck(context.Context) stage.Health {
	if h.fetcher == nil || h.parser == nil {
		return stage.Unhealthy(stageRoster, "roster download or parser not configured")
	}
	return stage.Healthy(stageRoster)
}

// rosterName picks the name the parser uses to choose a format: the message
// filename, else the last segment of the download reference.
func rosterName(msg events.Inbound) string {
	if msg.Filename != "" {
		return msg.Filename
	}
	ref := msg.DownloadURL
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return path.Base(ref)
}

func logNotifyFailure(logger *slog.Logger, what string, err error) {
	logging.WarnWithContext(logger, "notification failed", "notification_failed",
		logging.String("notification", what),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network reachability"),
		logging.String(logging.FieldImpact, "operator is not alerted; processing is unaffected"),
	)
}
