package stage

import (
	"context"

	"gradi/internal/events"
)

// Outcome is the tri-state result a handler reports for one message.
type Outcome int

const (
	// Done acknowledges and removes the message.
	Done Outcome = iota
	// Retry leaves the message unacknowledged so it reappears after the
	// visibility timeout.
	Retry
	// PoisonExceeded acknowledges the message after a terminal failure result
	// has been published.
	PoisonExceeded
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case PoisonExceeded:
		return "poison_exceeded"
	default:
		return "unknown"
	}
}

// Acknowledge reports whether the message should be deleted from the queue.
func (o Outcome) Acknowledge() bool {
	return o == Done || o == PoisonExceeded
}

// Handler describes the contract the workflow manager needs from each event
// handler.
type Handler interface {
	Handle(context.Context, events.Inbound) (Outcome, error)
	HealthCheck(context.Context) Health
}
