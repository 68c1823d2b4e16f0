package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound is one decoded work item from the input queue.
type Inbound struct {
	EventType   EventType
	ExamCode    string
	Filename    string
	DownloadURL string
	StudentID   string
	Index       *int
	Total       *int

	// HasStudentID records whether the body carried a studentId key at all.
	HasStudentID bool
	// HasAnswers records whether the body carried an answers array, which only
	// answer recognition results do.
	HasAnswers bool
}

type inboundWire struct {
	EventType   string  `json:"eventType"`
	ExamCode    string  `json:"examCode"`
	Filename    string  `json:"filename"`
	FileName    string  `json:"fileName"`
	DownloadURL string  `json:"downloadUrl"`
	ImageURL    string  `json:"imageUrl"`
	StudentID   *string `json:"studentId"`
	Index       *int    `json:"index"`
	Total       *int    `json:"total"`

	Answers json.RawMessage `json:"answers"`
}

// DecodeInbound parses a queue body. Only invalid JSON is an error; missing
// fields are left empty for the handlers to judge.
func DecodeInbound(body []byte) (Inbound, error) {
	var wire inboundWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return Inbound{}, fmt.Errorf("decode inbound message: %w", err)
	}
	msg := Inbound{
		EventType:   EventType(strings.TrimSpace(wire.EventType)),
		ExamCode:    strings.TrimSpace(wire.ExamCode),
		Filename:    firstNonEmpty(wire.Filename, wire.FileName),
		DownloadURL: firstNonEmpty(wire.DownloadURL, wire.ImageURL),
		Index:       wire.Index,
		Total:       wire.Total,
		HasAnswers:  len(wire.Answers) > 0 && string(wire.Answers) != "null",
	}
	if wire.StudentID != nil {
		msg.HasStudentID = true
		msg.StudentID = strings.TrimSpace(*wire.StudentID)
	}
	return msg, nil
}

// IsOwnResult reports whether the body looks like a result this worker
// published, which happens when input and output share a physical queue.
func (m Inbound) IsOwnResult() bool {
	switch m.EventType {
	case StudentIDRecognition:
		return m.HasStudentID
	case AnswerRecognition:
		return m.HasAnswers
	default:
		return false
	}
}

// Encode renders the canonical input body, used by ingest and tests.
func (m Inbound) Encode() ([]byte, error) {
	wire := map[string]any{
		"eventType":   string(m.EventType),
		"examCode":    m.ExamCode,
		"filename":    m.Filename,
		"downloadUrl": m.DownloadURL,
	}
	if m.Index != nil {
		wire["index"] = *m.Index
	}
	if m.Total != nil {
		wire["total"] = *m.Total
	}
	return json.Marshal(wire)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
