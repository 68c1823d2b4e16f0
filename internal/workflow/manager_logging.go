package workflow

import (
	"context"
	"strings"

	"gradi/internal/events"
	"gradi/internal/services"
)

func withMessageContext(ctx context.Context, msg events.Inbound) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if code := strings.TrimSpace(msg.ExamCode); code != "" {
		ctx = services.WithExamCode(ctx, code)
	}
	if name := strings.TrimSpace(msg.Filename); name != "" {
		ctx = services.WithFilename(ctx, name)
	}
	if label := stageLabel(msg.EventType); label != "" {
		ctx = services.WithStage(ctx, label)
	}
	return ctx
}

func stageLabel(eventType events.EventType) string {
	switch eventType {
	case events.AttendanceUpload:
		return stageRoster
	case events.StudentIDRecognition:
		return stageRecognition
	case events.AnswerMetadataUpload:
		return stageMetadata
	case events.AnswerRecognition:
		return stageAnswers
	case events.GradingComplete:
		return stageCompletion
	default:
		return ""
	}
}
