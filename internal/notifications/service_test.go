package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gradi/internal/config"
	"gradi/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyUnresolved(context.Background(), "E1", "p1.jpg", "vlm_unavailable"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title, body, tags, priority string
}

func newCapture(t *testing.T, status int) (*config.Config, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	return &cfg, &got
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "unresolved",
			send:          func(s notifications.Service) error { return s.NotifyUnresolved(context.Background(), "MID", "p1.jpg", "vlm_unavailable") },
			expectTitle:   "Gradi - Manual Review",
			expectMessage: "Could not identify student on p1.jpg (MID)\nReason: vlm_unavailable",
			expectTags:    "gradi,unresolved,review",
		},
		{
			name:           "roster abandoned",
			send:           func(s notifications.Service) error { return s.NotifyRosterAbandoned(context.Background(), "MID", "p1.jpg", 5) },
			expectTitle:    "Gradi - Roster Missing",
			expectMessage:  "⏳ Gave up on p1.jpg after 5 attempts: no roster loaded for MID",
			expectTags:     "gradi,roster,missing",
			expectPriority: "high",
		},
		{
			name:          "batch with errors",
			send:          func(s notifications.Service) error { return s.NotifyBatchCompleted(context.Background(), "MID", 3, 1, 1500*time.Millisecond) },
			expectTitle:   "Gradi - Answers Recognised (with errors)",
			expectMessage: "MID: 3 succeeded, 1 failed in 2s",
			expectTags:    "gradi,answers,completed",
		},
		{
			name:           "error",
			send:           func(s notifications.Service) error { return s.NotifyError(context.Background(), errors.New("boom"), "answer batch") },
			expectTitle:    "Gradi - Error",
			expectMessage:  "❌ Error with answer batch: boom",
			expectTags:     "gradi,error,alert",
			expectPriority: "high",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, got := newCapture(t, http.StatusOK)
			if err := tt.send(notifications.NewService(cfg)); err != nil {
				t.Fatalf("send: %v", err)
			}
			if len(*got) != 1 {
				t.Fatalf("expected one request, got %d", len(*got))
			}
			req := (*got)[0]
			if req.title != tt.expectTitle || req.body != tt.expectMessage || req.tags != tt.expectTags || req.priority != tt.expectPriority {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	cfg, _ := newCapture(t, http.StatusTooManyRequests)
	err := notifications.NewService(cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
