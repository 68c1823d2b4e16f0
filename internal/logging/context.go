package logging

import (
	"context"
	"log/slog"

	"gradi/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldExamCode is the standardized key for the exam partition code.
	FieldExamCode = "exam_code"
	// FieldFilename is the standardized key for the scanned image or document name.
	FieldFilename = "filename"
	// FieldMessageID is the standardized key for queue message identifiers.
	FieldMessageID = "message_id"
	// FieldEventType classifies a log line for filtering; it is distinct from the queue event type.
	FieldEventType = "event_type"
	// FieldQueueEvent carries the eventType declared by a queue message.
	FieldQueueEvent = "queue_event"
	// FieldStage is the standardized key for pipeline or workflow stage names.
	FieldStage = "stage"
	// FieldReason is the standardized key for resolution reason codes.
	FieldReason = "reason"
	// FieldCorrelationID is the standardized key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if exam, ok := services.ExamCodeFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldExamCode, exam))
	}
	if name, ok := services.FilenameFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldFilename, name))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if id, ok := services.MessageIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldMessageID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return logger.With(args...)
}
