package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// VisionPrompt instructs a vision model to return the identifier as JSON.
const VisionPrompt = `Find the 8-digit student number (학번) written on this exam sheet header.
Respond with JSON only, exactly in this shape: {"student_id": "12345678"}
If no student number is visible respond with: {"student_id": null}`

// StripCodeFences removes a surrounding markdown code fence from a model reply.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseStudentIDReply extracts the student_id value from a model reply. It
// tolerates prose around the JSON object.
func ParseStudentIDReply(raw string) (string, error) {
	text := StripCodeFences(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("vision reply has no JSON object: %q", truncate(text, 80))
	}
	var parsed struct {
		StudentID any `json:"student_id"`
		Alt       any `json:"studentId"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return "", fmt.Errorf("vision reply: bad JSON: %w", err)
	}
	value := parsed.StudentID
	if value == nil {
		value = parsed.Alt
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	default:
		return "", nil
	}
}

// VisionResultFrom converts a model call outcome into a VisionResult.
func VisionResultFrom(ctx context.Context, raw string, err error) VisionResult {
	if err != nil {
		return VisionResult{Raw: raw, Failure: classifyVisionError(ctx, err)}
	}
	text, perr := ParseStudentIDReply(raw)
	if perr != nil || text == "" {
		return VisionResult{Raw: raw, Failure: VisionNoResult}
	}
	return VisionResult{Text: text, Confidence: VisionConfidence, Raw: raw}
}

func classifyVisionError(ctx context.Context, err error) VisionFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return VisionTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return VisionTimeout
	}
	return VisionNoResult
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
