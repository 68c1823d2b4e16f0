package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/queue"
	"gradi/internal/services"
	"gradi/internal/stage"
)

// Start begins background consumption of the input queue.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if m.deps.Topology == nil || m.deps.Topology.Input == nil || m.deps.Topology.Output == nil {
		return errors.New("workflow queues not configured")
	}
	if m.deps.State == nil {
		return errors.New("workflow exam state not configured")
	}

	// Handlers run under workCtx so an in-flight message finishes after Stop
	// cancels polling. workCtx is only cancelled when the shutdown join times out.
	workCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	pollCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.abort = abort
	m.running = true
	m.wg.Add(1)

	go m.run(pollCtx, workCtx)
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.String("input_queue", m.deps.Topology.Input.Name()),
		logging.String("output_queue", m.deps.Topology.Output.Name()),
		logging.Bool("vision_enabled", m.deps.Resolver != nil && m.deps.Resolver.HasVision()),
	)
	return nil
}

// Stop asks the loop to finish its current message and joins it and any answer
// batches within workflow.shutdown_timeout. Work still running after the
// timeout is cancelled; its messages return to the queue once their visibility
// timeout expires.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, abort := m.cancel, m.abort
	m.running = false
	m.cancel = nil
	m.abort = nil
	m.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.batches.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
	case <-time.After(m.shutdownTimeout()):
		logging.WarnWithContext(m.logger, "workflow shutdown timed out; cancelling in-flight work", "workflow_shutdown_timeout",
			logging.Duration("timeout", m.shutdownTimeout()),
			logging.String(logging.FieldErrorHint, "raise workflow.shutdown_timeout if recognition calls are slow"),
			logging.String(logging.FieldImpact, "unacknowledged messages are redelivered after their visibility timeout"),
		)
		abort()
		<-done
		return
	}
	abort()
}

func (m *Manager) run(pollCtx, workCtx context.Context) {
	defer m.wg.Done()
	opts := queue.ReceiveOptions{
		MaxMessages: m.cfg.Queue.MaxMessages,
		Wait:        m.cfg.WaitTime(),
		Visibility:  m.cfg.VisibilityTimeout(),
	}

	for {
		if pollCtx.Err() != nil {
			return
		}
		msgs, err := m.deps.Topology.Input.Receive(pollCtx, opts)
		if err != nil {
			if pollCtx.Err() != nil {
				return
			}
			m.handleReceiveError(pollCtx, err)
			continue
		}
		for _, msg := range msgs {
			if pollCtx.Err() != nil {
				// Remaining messages return to the queue after their visibility timeout.
				return
			}
			if paused := m.processMessage(workCtx, msg); paused {
				m.pause(pollCtx)
			}
		}
	}
}

func (m *Manager) handleReceiveError(ctx context.Context, err error) {
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, "failed to receive from input queue", "queue_receive_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue credentials, endpoint and network reachability"),
		logging.Duration("retry_in", m.errorRetryInterval()),
	)
	m.pause(ctx)
}

func (m *Manager) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetryInterval()):
	}
}

// processMessage handles one delivery. It reports whether the loop should
// pause before the next receive.
func (m *Manager) processMessage(ctx context.Context, msg queue.Message) bool {
	requestID := uuid.NewString()
	baseCtx := services.WithRequestID(services.WithMessageID(ctx, msg.ID), requestID)

	inbound, err := stage.DecodeMessage(msg.Body)
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(baseCtx, m.logger), "dropping malformed message", "message_malformed",
			logging.Error(err),
			logging.Int("body_bytes", len(msg.Body)),
			logging.String(logging.FieldErrorHint, "inspect the producer of this message"),
		)
		m.acknowledge(baseCtx, msg, "malformed")
		m.record(MessageSummary{MessageID: msg.ID, Outcome: "dropped"})
		return false
	}

	msgCtx := withMessageContext(baseCtx, inbound)
	logger := logging.WithContext(msgCtx, m.logger)

	if inbound.IsOwnResult() {
		logger.Debug("ignoring own result message",
			logging.String(logging.FieldEventType, "own_result_skipped"),
			logging.String(logging.FieldQueueEvent, string(inbound.EventType)),
		)
		m.acknowledge(msgCtx, msg, "own_result")
		return false
	}

	handler, ok := m.handlers[inbound.EventType]
	if !ok {
		logging.WarnWithContext(logger, "unknown event type; leaving message for redelivery", "message_unknown_type",
			logging.String(logging.FieldQueueEvent, string(inbound.EventType)),
			logging.Int("receive_count", msg.ReceiveCount),
			logging.String(logging.FieldErrorHint, "the redrive policy moves it to the dead-letter queue; inspect it with gradi dlq peek"),
		)
		m.record(summaryFor(msg, inbound, "unhandled"))
		return false
	}

	logger.Info("message received",
		logging.String(logging.FieldEventType, "message_received"),
		logging.String(logging.FieldQueueEvent, string(inbound.EventType)),
		logging.Int("receive_count", msg.ReceiveCount),
	)
	start := time.Now()
	outcome, panicked, err := m.dispatch(msgCtx, handler, inbound)
	if panicked {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "handler panicked; leaving message for redelivery", "handler_panic",
			logging.Error(err),
			logging.String(logging.FieldQueueEvent, string(inbound.EventType)),
			logging.String(logging.FieldErrorHint, "see stack in debug logs"),
		)
		m.record(summaryFor(msg, inbound, "panic"))
		return true
	}
	if err != nil {
		outcome = m.outcomeForError(logger, inbound, err)
	}

	if outcome.Acknowledge() {
		m.acknowledge(msgCtx, msg, outcome.String())
	}
	logger.Info("message handled",
		logging.String(logging.FieldEventType, "message_handled"),
		logging.String(logging.FieldQueueEvent, string(inbound.EventType)),
		logging.String("outcome", outcome.String()),
		logging.Duration("duration", time.Since(start)),
	)
	m.record(summaryFor(msg, inbound, outcome.String()))
	return false
}

func (m *Manager) dispatch(ctx context.Context, handler stage.Handler, msg events.Inbound) (outcome stage.Outcome, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx, m.logger).Debug("handler panic stack", logging.String("stack", string(debug.Stack())))
			outcome = stage.Retry
			err = fmt.Errorf("%w: handler panic: %v", services.ErrTransient, r)
			panicked = true
		}
	}()
	outcome, err = handler.Handle(ctx, msg)
	return outcome, false, err
}

func (m *Manager) outcomeForError(logger *slog.Logger, msg events.Inbound, err error) stage.Outcome {
	switch services.DispositionFor(err) {
	case services.DispositionDrop:
		logging.ErrorWithContext(logger, "dropping message that cannot succeed", "message_dropped",
			logging.Error(err),
			logging.String(logging.FieldQueueEvent, string(msg.EventType)),
			logging.String(logging.FieldErrorHint, "fix the message producer; redelivery cannot repair this message"),
		)
		return stage.Done
	default:
		m.setLastError(err)
		logging.WarnWithContext(logger, "handler failed; leaving message for redelivery", "message_retry",
			logging.Error(err),
			logging.String(logging.FieldQueueEvent, string(msg.EventType)),
			logging.String(logging.FieldErrorHint, "transient failures clear on redelivery; persistent ones reach the dead-letter queue"),
			logging.String(logging.FieldImpact, "message reappears after the visibility timeout"),
		)
		return stage.Retry
	}
}

func (m *Manager) acknowledge(ctx context.Context, msg queue.Message, reason string) {
	if err := m.deps.Topology.Input.Delete(ctx, msg); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to delete message; it will be redelivered", "queue_delete_failed",
			logging.Error(err),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "check queue permissions; the receipt handle may have expired"),
			logging.String(logging.FieldImpact, "the message is processed again after its visibility timeout"),
		)
	}
}
