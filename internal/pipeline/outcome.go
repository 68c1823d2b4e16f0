package pipeline

import "image"

// Stage names the step that produced the decision.
type Stage string

const (
	StageLayout Stage = "layout"
	StageOCR    Stage = "ocr"
	StageVision Stage = "vlm"
	StageMatch  Stage = "match"
)

// Reason is the observable decision code routed to human correction.
type Reason string

const (
	ReasonSuccess           Reason = "success"
	ReasonNoRegions         Reason = "no_boxes_detected"
	ReasonNoNonTableRegions Reason = "no_non_table_boxes"
	ReasonNoValidID         Reason = "no_valid_student_id_found"
	ReasonVisionUnavailable Reason = "vlm_unavailable"
	ReasonVisionError       Reason = "vlm_error"
	ReasonVisionNoMatch     Reason = "vlm_no_match_or_ambiguous"
)

// Vision error types recorded in the diagnostic trail.
const (
	VisionErrorUnavailable   = "vlm_unavailable"
	VisionErrorNoResult      = "no_result"
	VisionErrorTimeout       = "timeout"
	VisionErrorInvalidFormat = "invalid_format"
)

// Candidate records one region read during the OCR pass.
type Candidate struct {
	Label      string    `json:"label"`
	RawText    string    `json:"raw_text"`
	Normalized string    `json:"normalized"`
	Confidence float64   `json:"conf"`
	BBox       []float64 `json:"bbox"`
}

// Outcome is the result of resolving one image. StudentID is non-empty exactly
// when Reason is ReasonSuccess.
type Outcome struct {
	StudentID        string
	Header           image.Image
	Stage            Stage
	Reason           Reason
	Confidence       float64
	UsedVision       bool
	VisionError      string
	Candidates       []Candidate
	MatchedFromLabel string
	AmbiguousMatches int
}

// Resolved reports whether an identifier was matched.
func (o Outcome) Resolved() bool {
	return o.Reason == ReasonSuccess && o.StudentID != ""
}

// Meta renders the diagnostic trail with stable keys for logs and results.
func (o Outcome) Meta() map[string]any {
	meta := map[string]any{
		"stage":          string(o.Stage),
		"reason":         string(o.Reason),
		"used_vlm":       o.UsedVision,
		"ocr_candidates": o.Candidates,
	}
	if o.Confidence > 0 {
		meta["ocr_conf"] = o.Confidence
	}
	if o.VisionError != "" {
		meta["vlm_error_type"] = o.VisionError
	}
	if o.MatchedFromLabel != "" {
		meta["matched_from_label"] = o.MatchedFromLabel
	}
	if o.AmbiguousMatches > 0 {
		meta["ambiguous_matches"] = o.AmbiguousMatches
	}
	return meta
}
