package recognition

import (
	"context"
	"image"
	"math"
	"strings"

	"gradi/internal/events"
)

// BBox is a detected region in source image pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Width of the box.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height of the box.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area of the box; degenerate boxes have zero area.
func (b BBox) Area() float64 {
	return math.Max(0, b.Width()) * math.Max(0, b.Height())
}

// Slice returns the coordinates as [x1, y1, x2, y2].
func (b BBox) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Region is one labelled layout block.
type Region struct {
	Label string
	Score float64
	Box   BBox
}

// IsTable reports whether the region is a tabular block.
func (r Region) IsTable() bool {
	return strings.Contains(strings.ToLower(r.Label), "table")
}

// IsIdentifierCandidate reports whether the region may hold an identifier
// field. Tables and forms never do.
func (r Region) IsIdentifierCandidate() bool {
	label := strings.ToLower(r.Label)
	return !strings.Contains(label, "table") && !strings.Contains(label, "form")
}

// TextResult is a recognised string with its model confidence. The zero value
// means no result.
type TextResult struct {
	Text       string
	Confidence float64
}

// VisionFailure classifies why a vision fallback produced nothing.
type VisionFailure string

const (
	VisionOK       VisionFailure = ""
	VisionNoResult VisionFailure = "no_result"
	VisionTimeout  VisionFailure = "timeout"
)

// VisionConfidence is the fixed score assigned to vision fallback answers. It
// only participates in comparisons, never in gating.
const VisionConfidence = 0.8

// VisionResult is the outcome of one vision fallback call.
type VisionResult struct {
	Text       string
	Confidence float64
	Raw        string
	Failure    VisionFailure
}

// AnswerReading is one sub-answer read from an answer sheet.
type AnswerReading struct {
	QuestionNumber    int     `json:"questionNumber"`
	SubQuestionNumber int     `json:"subQuestionNumber"`
	RecAnswer         string  `json:"recAnswer"`
	Confidence        float64 `json:"confidence"`
	RawText           string  `json:"rawText"`
}

// LayoutDetector finds labelled regions on a full page.
type LayoutDetector interface {
	DetectRegions(ctx context.Context, img image.Image) []Region
}

// TextRecognizer reads a single line of text from a cropped region.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, img image.Image) TextResult
}

// VisionRecognizer reads a student identifier from a header image.
type VisionRecognizer interface {
	ReadStudentID(ctx context.Context, img image.Image) VisionResult
}

// AnswerRecognizer reads the answers of one answer sheet.
type AnswerRecognizer interface {
	RecognizeAnswers(ctx context.Context, img image.Image, meta events.AnswerMetadata) []AnswerReading
}
