package objectstore

import (
	"path"
	"strings"

	"gradi/internal/events"
)

const (
	originalRoot = "original"
	headerRoot   = "header"
	answerRoot   = "answer"
	resultName   = "result.json"
)

// ContentTypeJSON and ContentTypeJPEG are the content types the worker writes.
const (
	ContentTypeJSON = "application/json"
	ContentTypeJPEG = "image/jpeg"
)

// segmentReplacer keeps one key segment from introducing extra path levels or
// characters some backends reject.
var segmentReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

func segment(value string) string {
	cleaned := strings.TrimSpace(segmentReplacer.Replace(strings.TrimSpace(value)))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return events.UnknownStudentID
	}
	return cleaned
}

// OriginalKey is where the source image is archived. An empty studentID files
// the image under unknown_id.
func OriginalKey(examCode, studentID, filename string) string {
	return path.Join(originalRoot, segment(examCode), segment(studentID), segment(filename))
}

// HeaderKey is where the header crop of an unresolved image is archived.
func HeaderKey(examCode, filename string) string {
	return path.Join(headerRoot, segment(examCode), events.UnknownStudentID, segment(filename))
}

// AnswerResultKey is where the answer recognition document is written.
func AnswerResultKey(examCode, studentID string) string {
	return path.Join(answerRoot, segment(examCode), segment(studentID), resultName)
}

// OriginalPrefix lists every archived original of an exam.
func OriginalPrefix(examCode string) string {
	return path.Join(originalRoot, segment(examCode)) + "/"
}

// ArchivedImage is a parsed original key.
type ArchivedImage struct {
	Key       string
	ExamCode  string
	StudentID string
	Filename  string
}

// ParseOriginalKey splits original/{exam}/{sid}/{file}.
func ParseOriginalKey(key string) (ArchivedImage, bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) != 4 || parts[0] != originalRoot {
		return ArchivedImage{}, false
	}
	for _, p := range parts[1:] {
		if p == "" {
			return ArchivedImage{}, false
		}
	}
	return ArchivedImage{Key: key, ExamCode: parts[1], StudentID: parts[2], Filename: parts[3]}, true
}

// IsImage reports whether name has an image extension the pipeline decodes.
func IsImage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	default:
		return false
	}
}
