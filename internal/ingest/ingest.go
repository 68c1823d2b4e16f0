// Package ingest translates object-store upload notifications into worker
// input messages.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/queue"
	"gradi/internal/services"
)

const (
	uploadsSegment    = "uploads"
	attendanceSegment = "attendance"
	unknownExam       = "unknown"
	defaultSequencer  = "default"
)

// Notification is an S3 event notification document.
type Notification struct {
	Records []Record `json:"Records"`
}

// Record is one object event.
type Record struct {
	EventID   string `json:"eventID"`
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"s3"`
}

// Message is an input message plus its FIFO routing.
type Message struct {
	Inbound events.Inbound
	Send    queue.SendOptions
}

// ParseNotification decodes a notification document.
func ParseNotification(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, services.Wrap(services.ErrValidation, "ingest", "decode", "invalid notification document", err)
	}
	return n, nil
}

// FromStorageEvent maps an object-created record to the input message the
// worker expects. Keys under .../uploads/{exam}/... become image recognition
// requests and keys under .../attendance/{exam}/... become roster uploads.
func FromStorageEvent(rec Record) (Message, error) {
	if name := rec.EventName; name != "" && !strings.HasPrefix(name, "ObjectCreated") {
		return Message{}, services.Wrap(services.ErrValidation, "ingest", "map", fmt.Sprintf("ignoring %s event", name), nil)
	}
	bucket := strings.TrimSpace(rec.S3.Bucket.Name)
	rawKey := rec.S3.Object.Key
	key, err := url.QueryUnescape(rawKey)
	if err != nil {
		key = rawKey
	}
	key = strings.TrimLeft(key, "/")
	if bucket == "" || key == "" {
		return Message{}, services.Wrap(services.ErrValidation, "ingest", "map", "record has no bucket or key", nil)
	}

	parts := strings.Split(key, "/")
	exam, eventType := unknownExam, events.StudentIDRecognition
	if code, ok := segmentAfter(parts, uploadsSegment); ok {
		exam = code
	} else if code, ok := segmentAfter(parts, attendanceSegment); ok {
		exam, eventType = code, events.AttendanceUpload
	}

	dedup := rec.EventID
	if dedup == "" {
		sequencer := rec.S3.Object.Sequencer
		if sequencer == "" {
			sequencer = defaultSequencer
		}
		dedup = fmt.Sprintf("%s-%s-%s", bucket, key, sequencer)
	}

	return Message{
		Inbound: events.Inbound{
			EventType:   eventType,
			ExamCode:    exam,
			Filename:    parts[len(parts)-1],
			DownloadURL: (&url.URL{Scheme: "s3", Host: bucket, Path: "/" + key}).String(),
		},
		Send: queue.SendOptions{
			GroupID:         strings.ReplaceAll(exam, " ", "_"),
			DeduplicationID: sanitizeDedup(dedup),
		},
	}, nil
}

// segmentAfter returns the path segment following the first occurrence of name.
func segmentAfter(parts []string, name string) (string, bool) {
	for i, part := range parts {
		if part == name {
			if i+1 < len(parts) {
				return parts[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func sanitizeDedup(id string) string {
	return strings.NewReplacer(" ", "_", "/", "_").Replace(id)
}

// Enqueue sends one input message per usable record. Records that fail to map
// or send are logged and skipped; their errors are joined into the result.
func Enqueue(ctx context.Context, q queue.Queue, n Notification, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ingest")

	sent := 0
	var errs []error
	for i, rec := range n.Records {
		msg, err := FromStorageEvent(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		body, err := msg.Inbound.Encode()
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		if err := q.Send(ctx, body, msg.Send); err != nil {
			logging.WarnWithContext(logger, "enqueue failed", "ingest_send_failed",
				logging.ExamCode(msg.Inbound.ExamCode),
				logging.Filename(msg.Inbound.Filename),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue.input_url and send permissions"),
			)
			errs = append(errs, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		sent++
		logger.Info("upload enqueued",
			logging.ExamCode(msg.Inbound.ExamCode),
			logging.Filename(msg.Inbound.Filename),
			logging.String(logging.FieldEventType, "ingest_enqueued"),
			logging.String("download_url", msg.Inbound.DownloadURL),
		)
	}
	return sent, errors.Join(errs...)
}
