package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AnswerMetadata is the answer key uploaded for an exam.
type AnswerMetadata struct {
	ExamCode  string          `json:"examCode"`
	Questions []Question      `json:"questions"`
	Images    []ImageMapping  `json:"images"`
	Raw       json.RawMessage `json:"-"`
}

// Question describes one question or sub-question of the answer key.
type Question struct {
	QuestionID        int     `json:"questionId"`
	QuestionNumber    int     `json:"questionNumber"`
	SubQuestionNumber int     `json:"subQuestionNumber"`
	QuestionType      string  `json:"questionType"`
	Answer            string  `json:"answer"`
	AnswerCount       int     `json:"answerCount"`
	Point             float64 `json:"point"`
}

// ImageMapping assigns a human-corrected student id to an unresolved image.
type ImageMapping struct {
	FileName  string `json:"fileName"`
	Filename  string `json:"filename,omitempty"`
	StudentID string `json:"studentId"`
}

// Name returns whichever filename spelling was supplied.
func (m ImageMapping) Name() string {
	return firstNonEmpty(m.FileName, m.Filename)
}

// DecodeAnswerMetadata parses an answer key document and keeps the raw bytes.
func DecodeAnswerMetadata(data []byte) (AnswerMetadata, error) {
	var meta AnswerMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return AnswerMetadata{}, fmt.Errorf("decode answer metadata: %w", err)
	}
	meta.Raw = append(json.RawMessage(nil), data...)
	return meta, nil
}

// FallbackMap indexes image mappings by filename.
func (m AnswerMetadata) FallbackMap() map[string]string {
	out := make(map[string]string, len(m.Images))
	for _, img := range m.Images {
		name := img.Name()
		sid := strings.TrimSpace(img.StudentID)
		if name != "" && sid != "" {
			out[name] = sid
		}
	}
	return out
}

// Lookup returns the question matching number and sub-number. A question with
// sub-number zero matches any sub-answer of that number.
func (m AnswerMetadata) Lookup(number, sub int) (Question, bool) {
	var fallback *Question
	for i := range m.Questions {
		q := m.Questions[i]
		if q.QuestionNumber != number {
			continue
		}
		if q.SubQuestionNumber == sub {
			return q, true
		}
		if q.SubQuestionNumber == 0 && fallback == nil {
			fallback = &m.Questions[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Question{}, false
}

// AnswerResult is the per-student recognition document written to the object
// store and published on the output queue.
type AnswerResult struct {
	ExamCode  string       `json:"examCode"`
	StudentID string       `json:"studentId"`
	Filename  string       `json:"filename,omitempty"`
	Total     int          `json:"total"`
	Status    string       `json:"status"`
	EventType EventType    `json:"eventType"`
	Error     string       `json:"error,omitempty"`
	Answers   []AnswerItem `json:"answers"`
}

// Answer result statuses.
const (
	AnswerStatusCompleted = "completed"
	AnswerStatusFailed    = "failed"
)

// AnswerTotalScore is the full mark every answer result is scored against.
const AnswerTotalScore = 100

// NewAnswerResult starts a completed answer document for one student.
func NewAnswerResult(examCode, studentID, filename string) AnswerResult {
	if studentID == "" {
		studentID = UnknownStudentID
	}
	return AnswerResult{
		ExamCode:  examCode,
		StudentID: studentID,
		Filename:  filename,
		Total:     AnswerTotalScore,
		Status:    AnswerStatusCompleted,
		EventType: AnswerRecognition,
		Answers:   []AnswerItem{},
	}
}

// NewMetadataNotLoadedResult builds the terminal answer result for a sheet
// abandoned because its answer key never arrived.
func NewMetadataNotLoadedResult(examCode, studentID, filename string) AnswerResult {
	res := NewAnswerResult(examCode, studentID, filename)
	res.Status = AnswerStatusFailed
	res.Error = ErrorAnswerMetadataNotLoaded
	return res
}

// Encode validates the identifier shape and renders the JSON body.
func (r AnswerResult) Encode() ([]byte, error) {
	if !ValidResultID(r.StudentID) {
		return nil, fmt.Errorf("encode answer result: invalid studentId %q", r.StudentID)
	}
	if r.Answers == nil {
		r.Answers = []AnswerItem{}
	}
	return json.Marshal(r)
}

// AnswerItem is one recognised sub-answer merged with its answer key entry.
type AnswerItem struct {
	QuestionNumber    int       `json:"questionNumber"`
	SubQuestionNumber int       `json:"subQuestionNumber"`
	Point             float64   `json:"point"`
	AnswerCount       int       `json:"answerCount"`
	AnswerType        string    `json:"answerType"`
	RecAnswer         RecAnswer `json:"recAnswer"`
	CorrectAnswer     string    `json:"correctAnswer"`
	IsFallback        bool      `json:"isFallback"`
}

// RecAnswer carries what the recogniser read.
type RecAnswer struct {
	Values     []int     `json:"values"`
	Confidence []float64 `json:"confidence"`
	RawText    string    `json:"rawText"`
}

// FallbackNotice announces a low-confidence sub-answer for human review.
type FallbackNotice struct {
	EventType         EventType `json:"eventType"`
	ExamCode          string    `json:"examCode"`
	StudentID         string    `json:"studentId"`
	Filename          string    `json:"filename"`
	QuestionNumber    int       `json:"questionNumber"`
	SubQuestionNumber int       `json:"subQuestionNumber"`
	Confidence        float64   `json:"confidence"`
	RawText           string    `json:"rawText"`
}

// Encode renders the fallback announcement.
func (n FallbackNotice) Encode() ([]byte, error) {
	n.EventType = AnswerFallback
	return json.Marshal(n)
}
