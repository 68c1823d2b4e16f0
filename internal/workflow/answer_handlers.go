package workflow

import (
	"context"
	"log/slog"

	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/logging"
	"gradi/internal/recognition"
	"gradi/internal/services"
	"gradi/internal/stage"
)

// metadataHandler stores an uploaded answer key and starts answer recognition
// over the images already archived for the exam.
type metadataHandler struct {
	fetcher Fetcher
	state   *examstate.Store
	batches *batchRunner
	logger  *slog.Logger
}

func (h *metadataHandler) Handle(ctx context.Context, msg events.Inbound) (stage.Outcome, error) {
	if err := stage.RequireDownloadURL(stageMetadata, msg); err != nil {
		return stage.Done, err
	}
	data, err := h.fetcher.Fetch(ctx, msg.DownloadURL)
	if err != nil {
		return stage.Retry, services.Wrap(services.ErrTransient, stageMetadata, "download answer key", "", err)
	}
	meta, err := events.DecodeAnswerMetadata(data)
	if err != nil {
		return stage.Done, services.Wrap(services.ErrValidation, stageMetadata, "decode answer key", "", err)
	}
	examCode := msg.ExamCode
	if examCode == "" {
		examCode = meta.ExamCode
	}
	if examCode == "" {
		return stage.Done, services.Wrap(services.ErrValidation, stageMetadata, "validate message", "examCode missing from message and answer key", nil)
	}

	h.state.SetAnswerMetadata(ctx, examCode, meta)
	logging.WithContext(ctx, h.logger).Info("answer key loaded",
		logging.String(logging.FieldEventType, "answer_metadata_loaded"),
		logging.Int("questions", len(meta.Questions)),
		logging.Int("corrections", len(meta.Images)),
	)
	h.batches.Start(ctx, examCode, meta)
	return stage.Done, nil
}

func (h *metadataHandler) HealthCheck(context.Context) stage.Health {
	if h.fetcher == nil {
		return stage.Unhealthy(stageMetadata, "download not configured")
	}
	return stage.Healthy(stageMetadata)
}

// answerHandler recognises the answers on one sheet announced by message.
type answerHandler struct {
	fetcher   Fetcher
	state     *examstate.Store
	wait      waitPolicy
	processor *answerProcessor
	out       publisher
	logger    *slog.Logger
}

func (h *answerHandler) Handle(ctx context.Context, msg events.Inbound) (stage.Outcome, error) {
	if err := stage.RequireDownloadURL(stageAnswers, msg); err != nil {
		return stage.Done, err
	}
	if msg.ExamCode == "" || msg.Filename == "" {
		return stage.Done, services.Wrap(services.ErrValidation, stageAnswers, "validate message", "examCode or filename missing; dropping message", nil)
	}
	logger := logging.WithContext(ctx, h.logger)
	// Answer waits are counted apart from roster waits for the same file.
	key := poisonKey(msg.ExamCode, "answers/"+msg.Filename)

	meta, ok := h.state.AnswerMetadata(msg.ExamCode)
	if !ok {
		attempts, exhausted := h.wait.attempt(key)
		if !exhausted {
			logger.Info("answer key not loaded yet; leaving message for redelivery",
				logging.String(logging.FieldEventType, "answer_metadata_wait"),
				logging.Int("attempt", attempts),
				logging.Int("max_attempts", h.wait.max),
			)
			return stage.Retry, nil
		}
		res := events.NewMetadataNotLoadedResult(msg.ExamCode, msg.StudentID, msg.Filename)
		if err := h.out.answer(ctx, res); err != nil {
			return stage.Retry, err
		}
		h.wait.clear(key)
		logging.ErrorWithContext(logger, "answer key never loaded; published terminal result", "answer_metadata_wait_exhausted",
			logging.Int("attempts", attempts),
			logging.String(logging.FieldErrorHint, "upload the answer key for this exam; archived sheets are then processed in batch"),
		)
		return stage.PoisonExceeded, nil
	}

	data, err := h.fetcher.Fetch(ctx, msg.DownloadURL)
	if err != nil {
		return stage.Retry, services.Wrap(services.ErrTransient, stageAnswers, "download image", "", err)
	}
	img, _, err := recognition.Decode(data)
	if err != nil {
		return stage.Retry, services.Wrap(services.ErrTransient, stageAnswers, "decode image", "download may be truncated", err)
	}

	sid := answerStudentID(msg.StudentID, msg.Filename, meta)
	res := h.processor.recognize(ctx, img, meta, msg.ExamCode, sid, msg.Filename)
	if err := h.processor.store(ctx, res); err != nil {
		logArchiveFailure(logger, "answer result", err)
	}
	if err := h.out.answer(ctx, res); err != nil {
		return stage.Retry, err
	}
	h.wait.clear(key)
	notices := h.processor.announce(ctx, logger, res)
	logger.Info("answers recognised",
		logging.String(logging.FieldEventType, "answers_recognised"),
		logging.String("student_id", sid),
		logging.Int("answers", len(res.Answers)),
		logging.Int("fallback_notices", notices),
	)
	return stage.Done, nil
}

func (h *answerHandler) HealthCheck(context.Context) stage.Health {
	if h.processor == nil || h.processor.answers == nil {
		return stage.Unhealthy(stageAnswers, "answer recogniser not configured")
	}
	return stage.Healthy(stageAnswers)
}
