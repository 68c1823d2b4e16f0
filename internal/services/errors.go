package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrNotReady      = errors.New("not ready")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later outcome classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Disposition describes what the consumer should do with a message whose
// handler failed.
type Disposition string

const (
	// DispositionDrop acknowledges the message; redelivery cannot fix it.
	DispositionDrop Disposition = "drop"
	// DispositionRetry leaves the message for redelivery after the visibility timeout.
	DispositionRetry Disposition = "retry"
	// DispositionWait is a retry that counts against the poison budget.
	DispositionWait Disposition = "wait"
)

// DispositionFor maps a handler error to the consumer action.
func DispositionFor(err error) Disposition {
	switch {
	case err == nil:
		return DispositionDrop
	case errors.Is(err, ErrValidation):
		return DispositionDrop
	case errors.Is(err, ErrNotReady):
		return DispositionWait
	default:
		return DispositionRetry
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
