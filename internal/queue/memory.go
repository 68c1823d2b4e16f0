package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gradi/internal/services"
)

type memoryEntry struct {
	msg       Message
	invisible time.Time
	inFlight  bool
}

// Memory is an in-process queue with visibility timeouts and an optional
// dead-letter target.
type Memory struct {
	name string
	fifo bool

	mu         sync.Mutex
	entries    []*memoryEntry
	nextID     int
	notify     chan struct{}
	created    time.Time
	modified   time.Time
	deadLetter *Memory
	maxReceive int
	now        func() time.Time
}

// NewMemory returns an empty in-process queue.
func NewMemory(name string) *Memory {
	now := time.Now()
	return &Memory{
		name:     name,
		fifo:     IsFIFO(name),
		notify:   make(chan struct{}),
		created:  now,
		modified: now,
		now:      time.Now,
	}
}

// WithDeadLetter moves messages to dlq once they were received maxReceive
// times without being deleted.
func (m *Memory) WithDeadLetter(dlq *Memory, maxReceive int) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetter = dlq
	m.maxReceive = maxReceive
	return m
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) FIFO() bool { return m.fifo }

func (m *Memory) Send(_ context.Context, body []byte, opts SendOptions) error {
	m.mu.Lock()
	m.enqueueLocked(Message{Body: append([]byte(nil), body...), GroupID: opts.GroupID})
	m.mu.Unlock()
	return nil
}

func (m *Memory) enqueueLocked(msg Message) {
	m.nextID++
	msg.ID = strconv.Itoa(m.nextID)
	msg.ReceiptHandle = ""
	if msg.SentAt.IsZero() {
		msg.SentAt = m.now()
	}
	m.entries = append(m.entries, &memoryEntry{msg: msg})
	m.modified = m.now()
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *Memory) Receive(ctx context.Context, opts ReceiveOptions) ([]Message, error) {
	maxMessages := max(opts.MaxMessages, 1)
	var deadline <-chan time.Time
	if opts.Wait > 0 {
		timer := time.NewTimer(opts.Wait)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		m.mu.Lock()
		out := m.takeLocked(maxMessages, opts.Visibility)
		notify := m.notify
		m.mu.Unlock()
		if len(out) > 0 || deadline == nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-notify:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (m *Memory) takeLocked(maxMessages int, visibility time.Duration) []Message {
	now := m.now()
	var out []Message
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.inFlight && now.Before(e.invisible) {
			kept = append(kept, e)
			continue
		}
		if e.inFlight && m.deadLetter != nil && m.maxReceive > 0 && e.msg.ReceiveCount >= m.maxReceive {
			m.deadLetter.mu.Lock()
			m.deadLetter.enqueueLocked(e.msg)
			m.deadLetter.mu.Unlock()
			continue
		}
		kept = append(kept, e)
		if len(out) >= maxMessages {
			continue
		}
		e.inFlight = true
		e.invisible = now.Add(visibility)
		e.msg.ReceiveCount++
		e.msg.ReceiptHandle = fmt.Sprintf("%s-%d", e.msg.ID, e.msg.ReceiveCount)
		out = append(out, e.msg)
	}
	m.entries = kept
	return out
}

func (m *Memory) Delete(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries {
		if e.msg.ID == msg.ID {
			if e.msg.ReceiptHandle != msg.ReceiptHandle {
				return services.Wrap(services.ErrValidation, "queue", "delete", "stale receipt handle", nil)
			}
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			m.modified = m.now()
			return nil
		}
	}
	return nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var stats Stats
	for _, e := range m.entries {
		if e.inFlight && now.Before(e.invisible) {
			stats.InFlight++
		} else {
			stats.Visible++
		}
	}
	stats.CreatedAt = m.created
	stats.ModifiedAt = m.modified
	return stats, nil
}

func (m *Memory) Purge(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.modified = m.now()
	return nil
}

// Bodies returns every queued body in order, visible or not. Used by tests.
func (m *Memory) Bodies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.msg.Body)
	}
	return out
}

// Len returns the number of queued messages, visible or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
