package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"gradi/internal/config"
	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/logging"
	"gradi/internal/objectstore"
	"gradi/internal/pipeline"
	"gradi/internal/queue"
	"gradi/internal/roster"
	"gradi/internal/testsupport"
	"gradi/internal/workflow"
)

type harness struct {
	cfg      *config.Config
	topo     *queue.Topology
	input    *queue.Memory
	output   *queue.Memory
	fallback *queue.Memory
	state    *examstate.Store
	objects  *objectstore.Memory
	resolver *testsupport.FakeResolver
	answers  *testsupport.FakeAnswers
	notifier *testsupport.RecordingNotifier
	manager  *workflow.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	topo := queue.NewMemoryTopology(cfg.Queue.DLQMaxReceiveCount)
	objects := objectstore.NewMemory()
	h := &harness{
		cfg:      cfg,
		topo:     topo,
		input:    topo.Input.(*queue.Memory),
		output:   topo.Output.(*queue.Memory),
		fallback: topo.Fallback.(*queue.Memory),
		state:    examstate.New(),
		objects:  objects,
		resolver: &testsupport.FakeResolver{},
		answers:  &testsupport.FakeAnswers{},
		notifier: &testsupport.RecordingNotifier{},
	}
	h.manager = h.newManager(objects)
	return h
}

// newManager builds a manager over the harness topology. Archival writes go
// to archive while downloads keep reading from the harness object store.
func (h *harness) newManager(archive objectstore.Store) *workflow.Manager {
	return workflow.NewManager(h.cfg, workflow.Deps{
		Topology: h.topo,
		State:    h.state,
		Fetcher:  objectstore.NewFetcher(h.objects, h.cfg.DownloadTimeout()),
		Objects:  archive,
		Roster:   roster.NewParser(logging.NewNop()),
		Resolver: h.resolver,
		Answers:  h.answers,
		Notifier: h.notifier,
	}, logging.NewNop())
}

// flakyQueue fails the first failures sends.
type flakyQueue struct {
	queue.Queue
	failures int32
	calls    atomic.Int32
}

func (q *flakyQueue) Send(ctx context.Context, body []byte, opts queue.SendOptions) error {
	if q.calls.Add(1) <= q.failures {
		return errors.New("output queue throttled")
	}
	return q.Queue.Send(ctx, body, opts)
}

// readOnlyStore rejects every write.
type readOnlyStore struct {
	objectstore.Store
	puts atomic.Int32
}

func (s *readOnlyStore) Put(context.Context, string, []byte, string) error {
	s.puts.Add(1)
	return errors.New("bucket is read-only")
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

func (h *harness) send(t *testing.T, msg events.Inbound) {
	t.Helper()
	body, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode inbound: %v", err)
	}
	h.sendRaw(t, body)
}

func (h *harness) sendRaw(t *testing.T, body []byte) {
	t.Helper()
	if err := h.input.Send(t.Context(), body, queue.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func (h *harness) results(t *testing.T) []events.Result {
	t.Helper()
	bodies := h.output.Bodies()
	out := make([]events.Result, 0, len(bodies))
	for _, body := range bodies {
		var res events.Result
		if err := json.Unmarshal(body, &res); err != nil {
			t.Fatalf("decode result %s: %v", body, err)
		}
		out = append(out, res)
	}
	return out
}

func (h *harness) notifications(kind string) []testsupport.Notification {
	var out []testsupport.Notification
	for _, n := range h.notifier.Events() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func resolvedOutcome(id string) pipeline.Outcome {
	return pipeline.Outcome{StudentID: id, Stage: pipeline.StageOCR, Reason: pipeline.ReasonSuccess, Confidence: 0.9}
}

func unresolvedOutcome(header image.Image) pipeline.Outcome {
	return pipeline.Outcome{
		Header:      header,
		Stage:       pipeline.StageVision,
		Reason:      pipeline.ReasonVisionUnavailable,
		VisionError: pipeline.VisionErrorUnavailable,
	}
}

func imageMessage(exam, file, url string) events.Inbound {
	return events.Inbound{EventType: events.StudentIDRecognition, ExamCode: exam, Filename: file, DownloadURL: url}
}
