// Package gemini implements the vision fallback on Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gradi/internal/logging"
	"gradi/internal/recognition"
)

const defaultTimeout = 10 * time.Second

// Config captures the Gemini settings.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type generateFunc func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)

// Recognizer reads student identifiers from header images with Gemini.
type Recognizer struct {
	client   *genai.Client
	generate generateFunc
	timeout  time.Duration
	logger   *slog.Logger
}

// New dials the Gemini API. The model answers in JSON at temperature zero.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Recognizer, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	m := client.GenerativeModel(strings.TrimSpace(cfg.Model))
	if m == nil {
		client.Close()
		return nil, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		MaxOutputTokens:  ptrInt32(64),
		ResponseMIMEType: "application/json",
	}
	return newRecognizer(client, m.GenerateContent, cfg.Timeout, logger), nil
}

func newRecognizer(client *genai.Client, generate generateFunc, timeout time.Duration, logger *slog.Logger) *Recognizer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Recognizer{
		client:   client,
		generate: generate,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "vision-gemini"),
	}
}

// ReadStudentID implements recognition.VisionRecognizer.
func (r *Recognizer) ReadStudentID(ctx context.Context, img image.Image) recognition.VisionResult {
	data, err := recognition.EncodePNG(img)
	if err != nil {
		r.logger.Warn("header encoding failed", logging.Error(err), logging.String(logging.FieldEventType, "vision_encode_failed"))
		return recognition.VisionResult{Failure: recognition.VisionNoResult}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	parts := []genai.Part{
		genai.Text(recognition.VisionPrompt),
		&genai.Blob{MIMEType: "image/png", Data: data},
	}
	resp, err := r.generate(callCtx, parts...)
	raw := ""
	if err == nil {
		raw = firstText(resp)
		if raw == "" {
			err = errors.New("gemini: empty response")
		}
	}
	result := recognition.VisionResultFrom(callCtx, raw, err)
	if result.Failure != recognition.VisionOK {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "gemini fallback returned no identifier", "vision_no_result",
			logging.String("failure", string(result.Failure)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check vision.api_key, vision.model and quota"),
		)
	}
	return result
}

// Close releases the underlying client.
func (r *Recognizer) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }

func ptrInt32(v int32) *int32 { return &v }
