package workflow

import (
	"context"
	"log/slog"

	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/logging"
	"gradi/internal/notifications"
	"gradi/internal/objectstore"
	"gradi/internal/pipeline"
	"gradi/internal/recognition"
	"gradi/internal/services"
	"gradi/internal/stage"
)

// recognitionHandler identifies the student on one scanned page and publishes
// the result. It is the hot path of the worker.
type recognitionHandler struct {
	fetcher  Fetcher
	objects  objectstore.Store
	resolver Resolver
	state    *examstate.Store
	wait     waitPolicy
	out      publisher
	notifier notifications.Service
	logger   *slog.Logger
}

func (h *recognitionHandler) Handle(ctx context.Context, msg events.Inbound) (stage.Outcome, error) {
	if err := stage.RequireDownloadURL(stageRecognition, msg); err != nil {
		return stage.Done, err
	}
	if msg.ExamCode == "" || msg.Filename == "" {
		return stage.Done, services.Wrap(services.ErrValidation, stageRecognition, "validate message", "examCode or filename missing; dropping message", nil)
	}
	logger := logging.WithContext(ctx, h.logger)
	key := poisonKey(msg.ExamCode, msg.Filename)

	roster := h.state.RosterSet(msg.ExamCode)
	if len(roster) == 0 {
		return h.rosterMissing(ctx, logger, msg, key)
	}

	data, err := h.fetcher.Fetch(ctx, msg.DownloadURL)
	if err != nil {
		return stage.Retry, services.Wrap(services.ErrTransient, stageRecognition, "download image", "", err)
	}
	img, format, err := recognition.Decode(data)
	if err != nil {
		return stage.Retry, services.Wrap(services.ErrTransient, stageRecognition, "decode image", "download may be truncated", err)
	}

	index := h.state.AssignSequence(ctx, key)
	outcome := h.resolver.Resolve(ctx, img, roster)
	h.archive(ctx, logger, msg, data, format, outcome)

	result := events.NewResult(msg.ExamCode, outcome.StudentID, msg.Filename, index)
	result.Meta = outcome.Meta()
	if err := h.out.result(ctx, result); err != nil {
		return stage.Retry, err
	}
	h.wait.clear(key)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "student_resolved"),
		logging.String("student_id", result.StudentID),
		logging.Int("index", index),
		logging.String(logging.FieldReason, string(outcome.Reason)),
		logging.String("decision_stage", string(outcome.Stage)),
		logging.Float64("confidence", outcome.Confidence),
		logging.Bool("used_vlm", outcome.UsedVision),
	}
	if outcome.Resolved() {
		logger.Info("student identified", logging.Args(attrs...)...)
		return stage.Done, nil
	}
	attrs[0] = logging.String(logging.FieldEventType, "student_unresolved")
	logger.Info("student not identified; published unresolved result", logging.Args(attrs...)...)
	if err := h.notifier.NotifyUnresolved(ctx, msg.ExamCode, msg.Filename, string(outcome.Reason)); err != nil {
		logNotifyFailure(logger, "unresolved", err)
	}
	return stage.Done, nil
}

// rosterMissing applies the bounded roster wait. Below the bound the message is
// left for redelivery; at the bound a terminal result is published.
func (h *recognitionHandler) rosterMissing(ctx context.Context, logger *slog.Logger, msg events.Inbound, key examstate.PoisonKey) (stage.Outcome, error) {
	attempts, exhausted := h.wait.attempt(key)
	if !exhausted {
		logger.Info("roster not loaded yet; leaving message for redelivery",
			logging.String(logging.FieldEventType, "roster_wait"),
			logging.Int("attempt", attempts),
			logging.Int("max_attempts", h.wait.max),
		)
		return stage.Retry, nil
	}

	if err := h.out.result(ctx, events.NewRosterNotLoadedResult(msg.ExamCode, msg.Filename, attempts)); err != nil {
		return stage.Retry, err
	}
	h.wait.clear(key)
	logging.ErrorWithContext(logger, "roster never loaded; published terminal result", "roster_wait_exhausted",
		logging.Int("attempts", attempts),
		logging.String(logging.FieldErrorHint, "upload the attendance roster for this exam, then re-submit the image"),
		logging.String(logging.FieldImpact, "image published as unknown_id"),
	)
	if err := h.notifier.NotifyRosterAbandoned(ctx, msg.ExamCode, msg.Filename, attempts); err != nil {
		logNotifyFailure(logger, "roster abandoned", err)
	}
	return stage.PoisonExceeded, nil
}

// archive stores the source image under the resolved identifier, or under
// unknown_id together with the header crop for manual correction. Failures
// are logged and never change the outcome.
func (h *recognitionHandler) archive(ctx context.Context, logger *slog.Logger, msg events.Inbound, data []byte, format string, outcome pipeline.Outcome) {
	if h.objects == nil {
		return
	}
	contentType := "image/" + format
	originalKey := objectstore.OriginalKey(msg.ExamCode, outcome.StudentID, msg.Filename)
	if err := h.objects.Put(ctx, originalKey, data, contentType); err != nil {
		logArchiveFailure(logger, originalKey, err)
	}
	if outcome.Resolved() {
		return
	}

	header, headerType := data, contentType
	if outcome.Header != nil {
		encoded, err := recognition.EncodeJPEG(outcome.Header)
		if err == nil {
			header, headerType = encoded, objectstore.ContentTypeJPEG
		} else {
			logger.Debug("header encode failed; archiving full image", logging.Error(err))
		}
	}
	headerKey := objectstore.HeaderKey(msg.ExamCode, msg.Filename)
	if err := h.objects.Put(ctx, headerKey, header, headerType); err != nil {
		logArchiveFailure(logger, headerKey, err)
	}
}

func (h *recognitionHandler) HealthCheck(context.Context) stage.Health {
	switch {
	case h.resolver == nil:
		return stage.Unhealthy(stageRecognition, "resolver not configured")
	case h.fetcher == nil:
		return stage.Unhealthy(stageRecognition, "image download not configured")
	case !h.resolver.HasVision():
		return stage.Limited(stageRecognition, "vision fallback disabled")
	default:
		return stage.Healthy(stageRecognition)
	}
}

func logArchiveFailure(logger *slog.Logger, key string, err error) {
	logging.WarnWithContext(logger, "archive upload failed", "archive_failed",
		logging.String("key", key),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check storage credentials and bucket permissions"),
		logging.String(logging.FieldImpact, "image is not available for answer recognition or manual correction"),
	)
}
