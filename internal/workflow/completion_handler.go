package workflow

import (
	"context"
	"log/slog"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/stage"
)

const (
	stageRoster      = "roster"
	stageRecognition = "recognition"
	stageMetadata    = "answer-metadata"
	stageAnswers     = "answers"
	stageCompletion  = "completion"
)

// completionHandler acknowledges grading completion requests. Scoring happens
// downstream.
type completionHandler struct {
	logger *slog.Logger
}

func (h *completionHandler) Handle(ctx context.Context, msg events.Inbound) (stage.Outcome, error) {
	logging.WithContext(ctx, h.logger).Info("grading completion acknowledged",
		logging.String(logging.FieldEventType, "grading_complete_acked"),
	)
	return stage.Done, nil
}

func (h *completionHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(stageCompletion)
}
