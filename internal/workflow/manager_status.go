package workflow

import (
	"context"
	"time"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/queue"
	"gradi/internal/stage"
)

// MessageSummary describes the most recently handled message.
type MessageSummary struct {
	MessageID string    `json:"messageId,omitempty"`
	EventType string    `json:"eventType,omitempty"`
	ExamCode  string    `json:"examCode,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running       bool
	LastError     string
	LastMessage   *MessageSummary
	Outcomes      map[string]int
	QueueStats    map[string]queue.Stats
	StageHealth   []stage.Health
	ActiveBatches []string
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:  m.running,
		Outcomes: make(map[string]int, len(m.counts)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastEvent != nil {
		copy := *m.lastEvent
		summary.LastMessage = &copy
	}
	for k, v := range m.counts {
		summary.Outcomes[k] = v
	}
	m.mu.RUnlock()

	summary.QueueStats = m.queueStats(ctx)
	for _, eventType := range m.order {
		if handler := m.handlers[eventType]; handler != nil {
			summary.StageHealth = append(summary.StageHealth, handler.HealthCheck(ctx))
		}
	}
	summary.ActiveBatches = m.batches.Active()
	return summary
}

func (m *Manager) queueStats(ctx context.Context) map[string]queue.Stats {
	stats := make(map[string]queue.Stats, 2)
	topo := m.deps.Topology
	if topo == nil {
		return stats
	}
	for _, inspector := range []queue.Inspector{topo.Input, topo.DeadLetter} {
		if inspector == nil {
			continue
		}
		s, err := inspector.Stats(ctx)
		if err != nil {
			m.logger.Warn("failed to read queue stats",
				logging.Error(err),
				logging.String("queue", inspector.Name()),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
			)
			continue
		}
		stats[inspector.Name()] = s
	}
	return stats
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) record(summary MessageSummary) {
	summary.At = time.Now().UTC()
	m.mu.Lock()
	m.lastEvent = &summary
	m.counts[summary.Outcome]++
	m.mu.Unlock()
}

func summaryFor(msg queue.Message, inbound events.Inbound, outcome string) MessageSummary {
	return MessageSummary{
		MessageID: msg.ID,
		EventType: string(inbound.EventType),
		ExamCode:  inbound.ExamCode,
		Filename:  inbound.Filename,
		Outcome:   outcome,
	}
}
