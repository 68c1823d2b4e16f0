package pipeline

import (
	"context"
	"image"
	"log/slog"
	"time"

	"gradi/internal/logging"
	"gradi/internal/recognition"
	"gradi/internal/studentid"
)

const (
	cropPadding     = 2
	minHeaderHeight = 10
)

// Config tunes the resolver.
type Config struct {
	ConfidenceThreshold float64
	HeaderMargin        int
	AllowFuzzy          bool
	VisionTimeout       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.6,
		HeaderMargin:        2,
		AllowFuzzy:          true,
		VisionTimeout:       10 * time.Second,
	}
}

// Resolver runs the resolution stages against the configured collaborators.
type Resolver struct {
	layout recognition.LayoutDetector
	text   recognition.TextRecognizer
	vision recognition.VisionRecognizer
	cfg    Config
	logger *slog.Logger
}

// New constructs a resolver. vision may be nil, in which case escalation is
// reported as unavailable.
func New(layout recognition.LayoutDetector, text recognition.TextRecognizer, vision recognition.VisionRecognizer, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = DefaultConfig().VisionTimeout
	}
	return &Resolver{
		layout: layout,
		text:   text,
		vision: vision,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}
}

// HasVision reports whether a vision fallback is configured.
func (r *Resolver) HasVision() bool {
	return r.vision != nil
}

// Resolve determines the student identifier on img.
func (r *Resolver) Resolve(ctx context.Context, img image.Image, roster studentid.Roster) Outcome {
	var out Outcome
	logger := logging.WithContext(ctx, r.logger)

	regions := r.layout.DetectRegions(ctx, img)
	if len(regions) == 0 {
		out.Stage, out.Reason = StageLayout, ReasonNoRegions
		return out
	}

	var tables, fields []recognition.Region
	for _, region := range regions {
		if region.IsTable() {
			tables = append(tables, region)
		}
		if region.IsIdentifierCandidate() {
			fields = append(fields, region)
		}
	}
	out.Header = r.header(img, tables)

	if len(fields) == 0 {
		out.Stage, out.Reason = StageLayout, ReasonNoNonTableRegions
		return out
	}

	if r.ocrPass(ctx, img, fields, roster, &out) {
		out.Stage, out.Reason = StageOCR, ReasonSuccess
		return out
	}

	r.escalate(ctx, roster, &out)
	if out.Reason == "" {
		out.Stage, out.Reason = StageOCR, ReasonNoValidID
	}
	logger.Debug("resolution finished without a match",
		logging.String(logging.FieldReason, string(out.Reason)),
		logging.Int("candidates", len(out.Candidates)),
	)
	return out
}

// header crops everything above the largest table, minus the margin.
func (r *Resolver) header(img image.Image, tables []recognition.Region) image.Image {
	if len(tables) == 0 {
		return nil
	}
	largest := tables[0]
	for _, t := range tables[1:] {
		if t.Box.Area() > largest.Box.Area() {
			largest = t
		}
	}
	cut := max(0, int(largest.Box.Y1)-r.cfg.HeaderMargin)
	if cut <= minHeaderHeight {
		return nil
	}
	b := img.Bounds()
	return recognition.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+cut))
}

// ocrPass reads every identifier-eligible region and keeps the matched
// candidate with the highest confidence; the first one wins ties.
func (r *Resolver) ocrPass(ctx context.Context, img image.Image, fields []recognition.Region, roster studentid.Roster, out *Outcome) bool {
	found := false
	for _, region := range fields {
		crop := recognition.Crop(img, recognition.PadRect(region.Box, cropPadding))
		if crop == nil {
			continue
		}
		read := r.text.RecognizeText(ctx, crop)
		normalized, _ := studentid.Normalize(read.Text)
		out.Candidates = append(out.Candidates, Candidate{
			Label:      region.Label,
			RawText:    read.Text,
			Normalized: normalized,
			Confidence: read.Confidence,
			BBox:       region.Box.Slice(),
		})
		if normalized == "" {
			continue
		}
		formatOK := studentid.IsValidFormat(normalized)
		lengthOK := len(normalized) == studentid.Length
		if studentid.ShouldFallback(formatOK, read.Confidence, lengthOK, r.cfg.ConfidenceThreshold) {
			continue
		}
		match := studentid.Match(normalized, roster, r.cfg.AllowFuzzy)
		if !match.Matched() {
			out.AmbiguousMatches += match.Ambiguous
			continue
		}
		if !found || read.Confidence > out.Confidence {
			found = true
			out.StudentID = match.ID
			out.Confidence = read.Confidence
			out.MatchedFromLabel = region.Label
		}
	}
	return found
}

// escalate asks the vision fallback to read the header image. Vision
// confidence is fixed and never gated.
func (r *Resolver) escalate(ctx context.Context, roster studentid.Roster, out *Outcome) {
	if r.vision == nil {
		out.VisionError = VisionErrorUnavailable
		out.Stage, out.Reason = StageOCR, ReasonVisionUnavailable
		return
	}
	if out.Header == nil {
		return
	}
	out.UsedVision = true

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.VisionTimeout)
	res := r.vision.ReadStudentID(callCtx, out.Header)
	cancel()

	switch {
	case res.Failure == recognition.VisionTimeout:
		out.VisionError = VisionErrorTimeout
		out.Stage, out.Reason = StageVision, ReasonVisionError
		return
	case res.Failure != recognition.VisionOK || res.Text == "":
		out.VisionError = VisionErrorNoResult
		out.Stage, out.Reason = StageVision, ReasonVisionError
		return
	}

	normalized, _ := studentid.Normalize(res.Text)
	if !studentid.IsValidFormat(normalized) || len(normalized) != studentid.Length {
		out.VisionError = VisionErrorInvalidFormat
		out.Stage, out.Reason = StageVision, ReasonVisionError
		return
	}
	match := studentid.Match(normalized, roster, r.cfg.AllowFuzzy)
	if !match.Matched() {
		out.AmbiguousMatches += match.Ambiguous
		out.Stage, out.Reason = StageMatch, ReasonVisionNoMatch
		return
	}
	out.StudentID = match.ID
	out.Confidence = recognition.VisionConfidence
	out.MatchedFromLabel = "header"
	out.Stage, out.Reason = StageVision, ReasonSuccess
}
