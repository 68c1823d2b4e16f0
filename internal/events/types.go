package events

import "regexp"

// EventType enumerates the eventType values carried by queue messages.
type EventType string

const (
	AttendanceUpload     EventType = "ATTENDANCE_UPLOAD"
	StudentIDRecognition EventType = "STUDENT_ID_RECOGNITION"
	AnswerMetadataUpload EventType = "ANSWER_METADATA_UPLOAD"
	AnswerRecognition    EventType = "ANSWER_RECOGNITION"
	GradingComplete      EventType = "GRADING_COMPLETE"
	AnswerFallback       EventType = "ANSWER_FALLBACK"
)

// UnknownStudentID is the sentinel published when no identifier was resolved.
const UnknownStudentID = "unknown_id"

// ErrorAttendanceNotLoaded is the meta error code for roster-wait abandonment.
const ErrorAttendanceNotLoaded = "ATTENDANCE_NOT_LOADED"

// ErrorAnswerMetadataNotLoaded is the error code for answer-key-wait abandonment.
const ErrorAnswerMetadataNotLoaded = "ANSWER_METADATA_NOT_LOADED"

var studentIDPattern = regexp.MustCompile(`^\d{8}$`)

// Known reports whether the event type is one the worker consumes.
func (t EventType) Known() bool {
	switch t {
	case AttendanceUpload, StudentIDRecognition, AnswerMetadataUpload, AnswerRecognition, GradingComplete:
		return true
	default:
		return false
	}
}

// ValidResultID reports whether id has a publishable shape: eight digits or
// the unresolved sentinel.
func ValidResultID(id string) bool {
	return id == UnknownStudentID || studentIDPattern.MatchString(id)
}
