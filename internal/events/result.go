package events

import (
	"encoding/json"
	"fmt"
)

// Result is the per-image outcome published to the output queue.
type Result struct {
	EventType EventType      `json:"eventType"`
	ExamCode  string         `json:"examCode"`
	StudentID string         `json:"studentId"`
	Filename  string         `json:"filename"`
	Index     int            `json:"index"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// NewResult builds a recognition result. An empty studentID collapses to the
// unresolved sentinel.
func NewResult(examCode, studentID, filename string, index int) Result {
	if studentID == "" {
		studentID = UnknownStudentID
	}
	return Result{
		EventType: StudentIDRecognition,
		ExamCode:  examCode,
		StudentID: studentID,
		Filename:  filename,
		Index:     index,
	}
}

// NewRosterNotLoadedResult builds the terminal result for an image abandoned
// after waiting attempts times for its roster.
func NewRosterNotLoadedResult(examCode, filename string, attempts int) Result {
	res := NewResult(examCode, "", filename, -1)
	res.Meta = map[string]any{
		"error":      ErrorAttendanceNotLoaded,
		"message":    fmt.Sprintf("attendance roster was not loaded after %d attempts", attempts),
		"nack_count": attempts,
	}
	return res
}

// Encode validates the identifier shape and renders the JSON body.
func (r Result) Encode() ([]byte, error) {
	if !ValidResultID(r.StudentID) {
		return nil, fmt.Errorf("encode result: invalid studentId %q", r.StudentID)
	}
	return json.Marshal(r)
}
