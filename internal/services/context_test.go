package services_test

import (
	"context"
	"testing"

	"gradi/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithExamCode(ctx, "MID2024")
	ctx = services.WithFilename(ctx, "page_001.jpg")
	ctx = services.WithStage(ctx, "recognition")
	ctx = services.WithMessageID(ctx, "m-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if v, ok := services.ExamCodeFromContext(ctx); !ok || v != "MID2024" {
		t.Fatalf("unexpected exam code: %v %v", v, ok)
	}
	if v, ok := services.FilenameFromContext(ctx); !ok || v != "page_001.jpg" {
		t.Fatalf("unexpected filename: %v %v", v, ok)
	}
	if v, ok := services.StageFromContext(ctx); !ok || v != "recognition" {
		t.Fatalf("unexpected stage: %v %v", v, ok)
	}
	if v, ok := services.MessageIDFromContext(ctx); !ok || v != "m-1" {
		t.Fatalf("unexpected message id: %v %v", v, ok)
	}
	if v, ok := services.RequestIDFromContext(ctx); !ok || v != "req-123" {
		t.Fatalf("unexpected request id: %v %v", v, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithExamCode(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.ExamCodeFromContext(ctx); ok {
		t.Fatal("expected no exam code value")
	}
}
