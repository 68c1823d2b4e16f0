package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"gradi/internal/events"
	"gradi/internal/logging"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 300 * time.Millisecond
	maxErrorBodyBytes     = 512
)

// Config captures the settings for the inference sidecar.
type Config struct {
	BaseURL        string
	TimeoutSeconds int
}

// Client talks to the inference sidecar over HTTP. Images are posted as PNG
// bodies to /layout, /ocr and /answers.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a sidecar client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		logger:           logging.NewComponentLogger(logger, "recognition"),
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type layoutResponse struct {
	Boxes []layoutBox `json:"boxes"`
	Res   *struct {
		Boxes []layoutBox `json:"boxes"`
	} `json:"res"`
}

type layoutBox struct {
	Label      string    `json:"label"`
	Score      float64   `json:"score"`
	Coordinate []float64 `json:"coordinate"`
}

// DetectRegions implements LayoutDetector.
func (c *Client) DetectRegions(ctx context.Context, img image.Image) []Region {
	var resp layoutResponse
	if err := c.postImage(ctx, "/layout", img, nil, &resp); err != nil {
		c.absorb(ctx, "layout detection failed", "layout_failed", err)
		return nil
	}
	boxes := resp.Boxes
	if len(boxes) == 0 && resp.Res != nil {
		boxes = resp.Res.Boxes
	}
	regions := make([]Region, 0, len(boxes))
	for _, b := range boxes {
		if len(b.Coordinate) != 4 {
			continue
		}
		regions = append(regions, Region{
			Label: b.Label,
			Score: b.Score,
			Box:   BBox{X1: b.Coordinate[0], Y1: b.Coordinate[1], X2: b.Coordinate[2], Y2: b.Coordinate[3]},
		})
	}
	return regions
}

type ocrResponse struct {
	RecText  string  `json:"rec_text"`
	RecScore float64 `json:"rec_score"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// RecognizeText implements TextRecognizer.
func (c *Client) RecognizeText(ctx context.Context, img image.Image) TextResult {
	var resp ocrResponse
	if err := c.postImage(ctx, "/ocr", img, nil, &resp); err != nil {
		c.absorb(ctx, "text recognition failed", "ocr_failed", err)
		return TextResult{}
	}
	if resp.RecText != "" || resp.RecScore != 0 {
		return TextResult{Text: strings.TrimSpace(resp.RecText), Confidence: resp.RecScore}
	}
	return TextResult{Text: strings.TrimSpace(resp.Text), Confidence: resp.Score}
}

type answersResponse struct {
	Results []AnswerReading `json:"results"`
}

// RecognizeAnswers implements AnswerRecognizer. The page and the answer key
// are posted together as a multipart form.
func (c *Client) RecognizeAnswers(ctx context.Context, img image.Image, meta events.AnswerMetadata) []AnswerReading {
	questions, err := json.Marshal(meta.Questions)
	if err != nil {
		c.absorb(ctx, "answer metadata encoding failed", "answer_recognition_failed", err)
		return nil
	}
	var resp answersResponse
	fields := map[string]string{"examCode": meta.ExamCode, "questions": string(questions)}
	if err := c.postImage(ctx, "/answers", img, fields, &resp); err != nil {
		c.absorb(ctx, "answer recognition failed", "answer_recognition_failed", err)
		return nil
	}
	return resp.Results
}

// Ping checks that the sidecar answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return errors.New("recognition base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recognition health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("recognition request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) postImage(ctx context.Context, path string, img image.Image, fields map[string]string, out any) error {
	if c.cfg.BaseURL == "" {
		return errors.New("recognition base url not configured")
	}
	if img == nil {
		return errors.New("image required")
	}
	encoded, err := EncodePNG(img)
	if err != nil {
		return err
	}
	payload, contentType := encoded, "image/png"
	if len(fields) > 0 {
		if payload, contentType, err = multipartBody(encoded, fields); err != nil {
			return err
		}
	}

	attempts := max(c.retryMaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.postOnce(ctx, path, payload, contentType)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == attempts {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*c.retryBaseDelay); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) postOnce(ctx context.Context, path string, payload []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := body
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return body, nil
}

func multipartBody(encoded []byte, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "page.png")
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(encoded); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.sleeper != nil {
		c.sleeper(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) absorb(ctx context.Context, msg, event string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, c.logger), msg, event,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check recognition.base_url and the inference sidecar logs"),
		logging.String(logging.FieldImpact, "stage treated as no result"),
	)
}
