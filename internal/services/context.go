package services

import "context"

type contextKey string

const (
	examCodeKey  contextKey = "exam_code"
	filenameKey  contextKey = "filename"
	stageKey     contextKey = "stage"
	messageIDKey contextKey = "message_id"
	requestIDKey contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithExamCode annotates context with the exam partition code.
func WithExamCode(ctx context.Context, code string) context.Context {
	return withString(ctx, examCodeKey, code)
}

// ExamCodeFromContext extracts the exam code if present.
func ExamCodeFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, examCodeKey)
}

// WithFilename annotates context with the image or document name being handled.
func WithFilename(ctx context.Context, name string) context.Context {
	return withString(ctx, filenameKey, name)
}

// FilenameFromContext returns the filename if present.
func FilenameFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, filenameKey)
}

// WithStage annotates context with the workflow stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stageKey)
}

// WithMessageID annotates context with the queue message identifier.
func WithMessageID(ctx context.Context, id string) context.Context {
	return withString(ctx, messageIDKey, id)
}

// MessageIDFromContext returns the queue message identifier if present.
func MessageIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, messageIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
