package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"gradi/internal/events"
	"gradi/internal/queue"
	"gradi/internal/services"
)

// publisher sends results to the output queue and answer fallback notices to
// the fallback queue. FIFO queues group by exam code.
type publisher struct {
	output   queue.Queue
	fallback queue.Queue
}

func newPublisher(topo *queue.Topology) publisher {
	if topo == nil {
		return publisher{}
	}
	return publisher{output: topo.Output, fallback: topo.Fallback}
}

func (p publisher) result(ctx context.Context, res events.Result) error {
	body, err := res.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, "publish", "encode result", "", err)
	}
	return send(ctx, p.output, res.ExamCode, body)
}

func (p publisher) answer(ctx context.Context, res events.AnswerResult) error {
	body, err := res.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, "publish", "encode answer result", "", err)
	}
	return send(ctx, p.output, res.ExamCode, body)
}

// notice announces one low-confidence sub-answer. Without a fallback queue the
// notice is skipped and sent reports false.
func (p publisher) notice(ctx context.Context, n events.FallbackNotice) (sent bool, err error) {
	if p.fallback == nil {
		return false, nil
	}
	body, err := n.Encode()
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "publish", "encode fallback notice", "", err)
	}
	if err := send(ctx, p.fallback, n.ExamCode, body); err != nil {
		return false, err
	}
	return true, nil
}

func send(ctx context.Context, q queue.Queue, examCode string, body []byte) error {
	if q == nil {
		return services.Wrap(services.ErrConfiguration, "publish", "send", "queue not configured", nil)
	}
	opts := queue.SendOptions{
		GroupID:         groupID(examCode),
		DeduplicationID: uuid.NewString(),
	}
	if err := q.Send(ctx, body, opts); err != nil {
		return services.Wrap(services.ErrTransient, "publish", "send", q.Name(), err)
	}
	return nil
}

func groupID(examCode string) string {
	return strings.ReplaceAll(strings.TrimSpace(examCode), " ", "_")
}
