// Package openai implements the vision fallback on any OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gradi/internal/logging"
	"gradi/internal/recognition"
)

const (
	defaultBaseURL = "https://api.openai.com/v1/chat/completions"
	defaultTimeout = 10 * time.Second
	maxReplyTokens = 50
)

// Config captures the runtime settings required to talk to the endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Recognizer reads student identifiers from header images.
type Recognizer struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the recognizer.
type Option func(*Recognizer)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Recognizer) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// New constructs a recognizer. It fails only when no API key is configured.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Recognizer, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	r := &Recognizer{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger(logger, "vision-openai"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("openai vision: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// ReadStudentID implements recognition.VisionRecognizer.
func (r *Recognizer) ReadStudentID(ctx context.Context, img image.Image) recognition.VisionResult {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	raw, err := r.complete(callCtx, img)
	result := recognition.VisionResultFrom(callCtx, raw, err)
	if result.Failure != recognition.VisionOK {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "openai fallback returned no identifier", "vision_no_result",
			logging.String("failure", string(result.Failure)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check vision.api_key, vision.base_url and vision.model"),
		)
	}
	return result
}

func (r *Recognizer) complete(ctx context.Context, img image.Image) (string, error) {
	data, err := recognition.EncodePNG(img)
	if err != nil {
		return "", err
	}
	payload := chatRequest{
		Model: r.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: recognition.VisionPrompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)}},
			},
		}},
		Temperature:    0,
		MaxTokens:      maxReplyTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("openai vision: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai vision: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai vision: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("openai vision: decode response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", fmt.Errorf("openai vision: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openai vision: empty choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai vision: empty content (finish_reason=%q, refusal=%q)",
			parsed.Choices[0].FinishReason, parsed.Choices[0].Message.Refusal)
	}
	return content, nil
}
