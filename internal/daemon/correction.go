package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gradi/internal/logging"
	"gradi/internal/objectstore"
	"gradi/internal/services"
	"gradi/internal/studentid"
)

// CorrectionImage assigns a student id to one unresolved image.
type CorrectionImage struct {
	FileName  string `json:"fileName"`
	StudentID string `json:"studentId"`
}

// UnmarshalJSON accepts both fileName and filename.
func (c *CorrectionImage) UnmarshalJSON(data []byte) error {
	var raw struct {
		FileName  string `json:"fileName"`
		Filename  string `json:"filename"`
		StudentID string `json:"studentId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.FileName = raw.FileName
	if strings.TrimSpace(c.FileName) == "" {
		c.FileName = raw.Filename
	}
	c.StudentID = raw.StudentID
	return nil
}

// CorrectionRequest is the operator's manual assignment for an exam.
type CorrectionRequest struct {
	ExamCode string            `json:"examCode"`
	Images   []CorrectionImage `json:"images"`
}

// CorrectionResult reports which archived images were filed under their
// corrected student ids.
type CorrectionResult struct {
	Success       bool     `json:"success"`
	UploadedCount int      `json:"uploadedCount"`
	Keys          []string `json:"s3Keys"`
	Message       string   `json:"message"`
	Errors        []string `json:"errors,omitempty"`
}

// Correct copies each unresolved header image to the original path of the
// student id the operator assigned. Entries fail independently.
func (d *Daemon) Correct(ctx context.Context, req CorrectionRequest) (CorrectionResult, error) {
	exam := strings.TrimSpace(req.ExamCode)
	if exam == "" {
		return CorrectionResult{}, services.Wrap(services.ErrValidation, "correction", "validate", "examCode is required", nil)
	}
	if len(req.Images) == 0 {
		return CorrectionResult{}, services.Wrap(services.ErrValidation, "correction", "validate", "images is empty", nil)
	}

	logger := d.logger.With(logging.ExamCode(exam))
	result := CorrectionResult{Keys: []string{}}
	for _, image := range req.Images {
		name := strings.TrimSpace(image.FileName)
		sid := strings.TrimSpace(image.StudentID)
		if name == "" {
			result.Errors = append(result.Errors, "entry without fileName")
			continue
		}
		if !studentid.IsValidFormat(sid) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: invalid studentId %q", name, sid))
			continue
		}
		src := objectstore.HeaderKey(exam, name)
		dst := objectstore.OriginalKey(exam, sid, name)
		if err := d.objects.Copy(ctx, src, dst); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		result.Keys = append(result.Keys, dst)
	}
	result.UploadedCount = len(result.Keys)

	if len(result.Errors) > 0 {
		result.Message = "partially failed: " + strings.Join(result.Errors, "; ")
		logging.WarnWithContext(logger, "manual correction partially failed", "correction_partial",
			logging.Int("copied", result.UploadedCount),
			logging.Int("failed", len(result.Errors)),
			logging.String(logging.FieldErrorHint, "check file names against header/"+exam+"/unknown_id"),
		)
		return result, nil
	}
	result.Success = true
	result.Message = fmt.Sprintf("%d images moved", result.UploadedCount)
	logger.Info("manual correction applied",
		logging.Int("copied", result.UploadedCount),
		logging.String(logging.FieldEventType, "correction_applied"),
	)
	return result, nil
}
