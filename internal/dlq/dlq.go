package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/queue"
	"gradi/internal/services"
)

const (
	// MaxPeek bounds a single peek to one receive call.
	MaxPeek = 10

	peekVisibility    = time.Second
	peekWait          = time.Second
	redriveBatch      = 10
	redriveVisibility = 30 * time.Second
	redriveWait       = time.Second
	redriveGroup      = "redrive"
)

// ErrNoDeadLetter is returned when the topology has no dead-letter queue.
var ErrNoDeadLetter = errors.New("dead-letter queue not configured")

// Tool inspects and drains the dead-letter queue of an input queue.
type Tool struct {
	input  queue.Inspector
	dlq    queue.Inspector
	logger *slog.Logger
}

// New binds the tool to a source queue and its dead-letter queue.
func New(input, dlq queue.Inspector, logger *slog.Logger) (*Tool, error) {
	if input == nil {
		return nil, services.Wrap(services.ErrConfiguration, "dlq", "init", "input queue not configured", nil)
	}
	if dlq == nil {
		return nil, services.Wrap(services.ErrConfiguration, "dlq", "init", "", ErrNoDeadLetter)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tool{input: input, dlq: dlq, logger: logging.NewComponentLogger(logger, "dlq")}, nil
}

// QueueStatus is one row of the status report.
type QueueStatus struct {
	Role  string
	Name  string
	Stats queue.Stats
	Err   error
}

// Created renders the queue creation time relative to now.
func (s QueueStatus) Created() string {
	return relative(s.Stats.CreatedAt)
}

// Modified renders the last attribute change relative to now.
func (s QueueStatus) Modified() string {
	return relative(s.Stats.ModifiedAt)
}

func relative(at time.Time) string {
	if at.IsZero() {
		return "-"
	}
	return humanize.Time(at)
}

// Status reports approximate depths for the input and dead-letter queues.
// A failure on one queue is returned in its row.
func (t *Tool) Status(ctx context.Context) []QueueStatus {
	rows := make([]QueueStatus, 0, 2)
	for _, q := range []struct {
		role string
		q    queue.Inspector
	}{{"input", t.input}, {"dead-letter", t.dlq}} {
		stats, err := q.q.Stats(ctx)
		rows = append(rows, QueueStatus{Role: q.role, Name: q.q.Name(), Stats: stats, Err: err})
	}
	return rows
}

// PeekedMessage summarises a dead-lettered message without consuming it.
type PeekedMessage struct {
	ID           string
	ReceiveCount int
	SentAt       time.Time
	EventType    string
	ExamCode     string
	Filename     string
	Body         []byte
}

// Peek receives up to max messages with a short visibility timeout and never
// deletes them, so they become visible again on their own.
func (t *Tool) Peek(ctx context.Context, max int) ([]PeekedMessage, error) {
	msgs, err := t.dlq.Receive(ctx, queue.ReceiveOptions{
		MaxMessages: clampPeek(max),
		Wait:        peekWait,
		Visibility:  peekVisibility,
	})
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", t.dlq.Name(), err)
	}
	out := make([]PeekedMessage, 0, len(msgs))
	for _, msg := range msgs {
		peeked := PeekedMessage{
			ID:           msg.ID,
			ReceiveCount: msg.ReceiveCount,
			SentAt:       msg.SentAt,
			Body:         msg.Body,
		}
		if inbound, err := events.DecodeInbound(msg.Body); err == nil {
			peeked.EventType = string(inbound.EventType)
			peeked.ExamCode = inbound.ExamCode
			peeked.Filename = inbound.Filename
		}
		out = append(out, peeked)
	}
	return out, nil
}

func clampPeek(max int) int {
	switch {
	case max < 1:
		return 1
	case max > MaxPeek:
		return MaxPeek
	default:
		return max
	}
}

// Purge removes every message from the dead-letter queue.
func (t *Tool) Purge(ctx context.Context) error {
	if err := t.dlq.Purge(ctx); err != nil {
		return err
	}
	t.logger.Info("dead-letter queue purged",
		logging.String("queue", t.dlq.Name()),
		logging.String(logging.FieldEventType, "dlq_purged"),
	)
	return nil
}

// RedriveReport counts the outcome of a redrive run.
type RedriveReport struct {
	Moved  int
	Failed int
}

// Redrive moves up to max messages (all when max <= 0) from the dead-letter
// queue back to the input queue. A message is deleted from the dead-letter
// queue only after it was sent.
func (t *Tool) Redrive(ctx context.Context, max int) (RedriveReport, error) {
	var report RedriveReport
	for max <= 0 || report.Moved+report.Failed < max {
		batch := redriveBatch
		if max > 0 {
			batch = min(batch, max-report.Moved-report.Failed)
		}
		msgs, err := t.dlq.Receive(ctx, queue.ReceiveOptions{
			MaxMessages: batch,
			Wait:        redriveWait,
			Visibility:  redriveVisibility,
		})
		if err != nil {
			return report, fmt.Errorf("receive from %s: %w", t.dlq.Name(), err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			if err := t.redriveOne(ctx, msg); err != nil {
				report.Failed++
				logging.WarnWithContext(t.logger, "redrive failed; message stays in the dead-letter queue", "dlq_redrive_failed",
					logging.String(logging.FieldMessageID, msg.ID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check input queue permissions and retry the redrive"),
				)
				continue
			}
			report.Moved++
		}
	}
	t.logger.Info("dead-letter redrive finished",
		logging.Int("moved", report.Moved),
		logging.Int("failed", report.Failed),
		logging.String(logging.FieldEventType, "dlq_redrive_finished"),
	)
	return report, nil
}

func (t *Tool) redriveOne(ctx context.Context, msg queue.Message) error {
	var opts queue.SendOptions
	if t.input.FIFO() {
		opts.GroupID = redriveGroupFor(msg.Body)
		opts.DeduplicationID = uuid.NewString()
	}
	if err := t.input.Send(ctx, msg.Body, opts); err != nil {
		return fmt.Errorf("send to %s: %w", t.input.Name(), err)
	}
	if err := t.dlq.Delete(ctx, msg); err != nil {
		return fmt.Errorf("delete from %s: %w", t.dlq.Name(), err)
	}
	return nil
}

func redriveGroupFor(body []byte) string {
	inbound, err := events.DecodeInbound(body)
	if err != nil {
		return redriveGroup
	}
	exam := strings.ReplaceAll(strings.TrimSpace(inbound.ExamCode), " ", "_")
	if exam == "" {
		return redriveGroup
	}
	return exam
}

// Setup creates the dead-letter queue for source and attaches the redrive
// policy. It returns the dead-letter queue URL.
func Setup(ctx context.Context, p queue.Provisioner, source string, maxReceiveCount int) (string, error) {
	if p == nil {
		return "", services.Wrap(services.ErrConfiguration, "dlq", "setup", "queue backend cannot provision a dead-letter queue", nil)
	}
	if maxReceiveCount < 1 {
		return "", services.Wrap(services.ErrValidation, "dlq", "setup", "max receive count must be at least 1", nil)
	}
	name := queue.QueueName(queue.InferDLQURL(source))
	if name == "" {
		return "", services.Wrap(services.ErrConfiguration, "dlq", "setup", "input queue not configured", nil)
	}
	return p.EnsureDeadLetter(ctx, name, maxReceiveCount)
}
