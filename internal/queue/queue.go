package queue

import (
	"context"
	"strings"
	"time"
)

// Message is one received delivery.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
	GroupID       string
	SentAt        time.Time
}

// SendOptions carries FIFO routing. Non-FIFO backends ignore it.
type SendOptions struct {
	GroupID         string
	DeduplicationID string
}

// ReceiveOptions bounds one receive call.
type ReceiveOptions struct {
	MaxMessages int
	Wait        time.Duration
	Visibility  time.Duration
}

// Queue is the transport surface used by the worker.
type Queue interface {
	Name() string
	Send(ctx context.Context, body []byte, opts SendOptions) error
	Receive(ctx context.Context, opts ReceiveOptions) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
}

// Stats are approximate queue depths.
type Stats struct {
	Visible    int64
	InFlight   int64
	Delayed    int64
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Total is the sum of every depth.
func (s Stats) Total() int64 {
	return s.Visible + s.InFlight + s.Delayed
}

// Inspector is implemented by queues that support operator tooling.
type Inspector interface {
	Queue
	Stats(ctx context.Context) (Stats, error)
	Purge(ctx context.Context) error
	FIFO() bool
}

// Provisioner creates a dead-letter queue for a source queue and attaches the
// redrive policy. Only SQS implements it.
type Provisioner interface {
	EnsureDeadLetter(ctx context.Context, dlqName string, maxReceiveCount int) (string, error)
}

// IsFIFO reports whether a queue URL or name denotes a FIFO queue.
func IsFIFO(nameOrURL string) bool {
	return strings.HasSuffix(strings.TrimSpace(nameOrURL), ".fifo")
}

// InferDLQURL derives the dead-letter queue URL or name for a source queue:
// "{name}-dlq", or "{base}-dlq.fifo" for FIFO queues.
func InferDLQURL(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return ""
	}
	if base, ok := strings.CutSuffix(source, ".fifo"); ok {
		return base + "-dlq.fifo"
	}
	return source + "-dlq"
}

// QueueName returns the last path segment of a queue URL.
func QueueName(nameOrURL string) string {
	nameOrURL = strings.TrimRight(strings.TrimSpace(nameOrURL), "/")
	if i := strings.LastIndexByte(nameOrURL, '/'); i >= 0 {
		return nameOrURL[i+1:]
	}
	return nameOrURL
}
