package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gradi/internal/config"
)

const userAgent = "Gradi-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyRosterLoaded(ctx context.Context, examCode string, students int) error
	NotifyUnresolved(ctx context.Context, examCode, filename, reason string) error
	NotifyRosterAbandoned(ctx context.Context, examCode, filename string, attempts int) error
	NotifyBatchCompleted(ctx context.Context, examCode string, processed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRosterLoaded(ctx context.Context, examCode string, students int) error {
	return n.send(ctx, payload{
		title:   "Gradi - Roster Loaded",
		message: fmt.Sprintf("📋 Roster loaded for %s: %d students", strings.TrimSpace(examCode), students),
		tags:    []string{"gradi", "roster", "loaded"},
	})
}

func (n *ntfyService) NotifyUnresolved(ctx context.Context, examCode, filename, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return n.send(ctx, payload{
		title:   "Gradi - Manual Review",
		message: fmt.Sprintf("Could not identify student on %s (%s)\nReason: %s", strings.TrimSpace(filename), strings.TrimSpace(examCode), reason),
		tags:    []string{"gradi", "unresolved", "review"},
	})
}

func (n *ntfyService) NotifyRosterAbandoned(ctx context.Context, examCode, filename string, attempts int) error {
	return n.send(ctx, payload{
		title:    "Gradi - Roster Missing",
		message:  fmt.Sprintf("⏳ Gave up on %s after %d attempts: no roster loaded for %s", strings.TrimSpace(filename), attempts, strings.TrimSpace(examCode)),
		tags:     []string{"gradi", "roster", "missing"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBatchCompleted(ctx context.Context, examCode string, processed, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	title := "Gradi - Answers Recognised"
	message := fmt.Sprintf("✅ %s: %d answer sheets processed in %s", strings.TrimSpace(examCode), processed, duration)
	if failed > 0 {
		title = "Gradi - Answers Recognised (with errors)"
		message = fmt.Sprintf("%s: %d succeeded, %d failed in %s", strings.TrimSpace(examCode), processed, failed, duration)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"gradi", "answers", "completed"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "Gradi - Error",
		message:  builder.String(),
		tags:     []string{"gradi", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Gradi - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"gradi", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRosterLoaded(context.Context, string, int) error { return nil }
func (noopService) NotifyUnresolved(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyRosterAbandoned(context.Context, string, string, int) error {
	return nil
}
func (noopService) NotifyBatchCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }
