package workflow_test

import (
	"context"
	"image"
	"testing"
	"time"

	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/objectstore"
	"gradi/internal/pipeline"
	"gradi/internal/testsupport"
)

func TestRosterUploadLoadsRosterAndResetsSequence(t *testing.T) {
	h := newHarness(t)
	testsupport.PutObject(t, h.objects, "attendance/E1/roster.csv", []byte("번호,학번,이름\n1,20231234,kim\n2,20235678,lee\n"), "text/csv")
	h.start(t)

	h.send(t, events.Inbound{EventType: events.AttendanceUpload, ExamCode: "E1", Filename: "roster.csv", DownloadURL: "attendance/E1/roster.csv"})
	waitFor(t, "roster load", func() bool { return len(h.state.Roster("E1")) == 2 })
	waitFor(t, "ack", func() bool { return h.input.Len() == 0 })
	h.manager.Stop()

	got := h.state.Roster("E1")
	if got[0] != "20231234" || got[1] != "20235678" {
		t.Fatalf("unexpected roster %v", got)
	}
	if seq := h.state.NextSequence(context.Background(), "E1"); seq != 1 {
		t.Fatalf("expected first sequence 1 after roster load, got %d", seq)
	}
	if n := h.notifications("roster_loaded"); len(n) != 1 || n[0].Count != 2 {
		t.Fatalf("expected roster loaded notification, got %+v", n)
	}
	if h.output.Len() != 0 {
		t.Fatal("roster upload must not publish results")
	}
}

func TestImageBeforeRosterPublishesTerminalResultAfterBound(t *testing.T) {
	h := newHarness(t)
	testsupport.PutObject(t, h.objects, "uploads/E2/p1.png", testsupport.PNG(t, 40, 40), "image/png")
	h.start(t)

	h.send(t, imageMessage("E2", "p1.png", "uploads/E2/p1.png"))
	waitFor(t, "terminal result", func() bool { return h.output.Len() == 1 })
	waitFor(t, "ack", func() bool { return h.input.Len() == 0 })

	res := h.results(t)[0]
	if res.StudentID != events.UnknownStudentID || res.Index != -1 || res.Filename != "p1.png" || res.ExamCode != "E2" {
		t.Fatalf("unexpected terminal result %+v", res)
	}
	if res.Meta["error"] != events.ErrorAttendanceNotLoaded || res.Meta["nack_count"] != float64(5) {
		t.Fatalf("unexpected terminal meta %+v", res.Meta)
	}
	if n := h.state.PoisonAttempts(examstate.PoisonKey{ExamCode: "E2", Filename: "p1.png"}); n != 0 {
		t.Fatalf("expected poison counter cleared, got %d", n)
	}
	if h.resolver.Calls() != 0 {
		t.Fatal("resolver must not run without a roster")
	}
	if n := h.notifications("roster_abandoned"); len(n) != 1 || n[0].Count != 5 {
		t.Fatalf("expected roster abandoned notification, got %+v", n)
	}
	if got := h.manager.Status(context.Background()).Outcomes["retry"]; got != 4 {
		t.Fatalf("expected 4 retries before the terminal result, got %d", got)
	}
}

func TestRecognitionPublishesSequencedResultsAndArchives(t *testing.T) {
	h := newHarness(t)
	h.state.LoadRoster(context.Background(), "E1", []string{"20231234"})
	h.resolver.Outcome = resolvedOutcome("20231234")
	for _, name := range []string{"p1.png", "p2.png"} {
		testsupport.PutObject(t, h.objects, "uploads/E1/"+name, testsupport.PNG(t, 40, 40), "image/png")
	}
	h.start(t)

	h.send(t, imageMessage("E1", "p1.png", "uploads/E1/p1.png"))
	h.send(t, imageMessage("E1", "p2.png", "uploads/E1/p2.png"))
	waitFor(t, "two results", func() bool { return h.output.Len() == 2 })

	results := h.results(t)
	for i, res := range results {
		if res.StudentID != "20231234" || res.Index != i+1 || res.EventType != events.StudentIDRecognition {
			t.Fatalf("unexpected result %d: %+v", i, res)
		}
		if res.Meta["reason"] != "success" || res.Meta["used_vlm"] != false {
			t.Fatalf("unexpected meta %+v", res.Meta)
		}
	}
	key := objectstore.OriginalKey("E1", "20231234", "p1.png")
	if ok, _ := h.objects.Exists(context.Background(), key); !ok {
		t.Fatalf("expected archived original at %s", key)
	}
	if h.objects.ContentType(key) != "image/png" {
		t.Fatalf("unexpected content type %q", h.objects.ContentType(key))
	}
	if ok, _ := h.objects.Exists(context.Background(), objectstore.HeaderKey("E1", "p1.png")); ok {
		t.Fatal("resolved images must not archive a header crop")
	}
	if len(h.notifications("unresolved")) != 0 {
		t.Fatal("resolved images must not notify")
	}
}

func TestUnresolvedImageArchivesHeaderForCorrection(t *testing.T) {
	h := newHarness(t)
	h.state.LoadRoster(context.Background(), "E1", []string{"20231234"})
	h.resolver.Outcome = unresolvedOutcome(image.NewGray(image.Rect(0, 0, 30, 12)))
	testsupport.PutObject(t, h.objects, "uploads/E1/p1.png", testsupport.PNG(t, 40, 40), "image/png")
	h.start(t)

	h.send(t, imageMessage("E1", "p1.png", "uploads/E1/p1.png"))
	waitFor(t, "result", func() bool { return h.output.Len() == 1 })

	res := h.results(t)[0]
	if res.StudentID != events.UnknownStudentID || res.Index != 1 {
		t.Fatalf("unexpected unresolved result %+v", res)
	}
	if res.Meta["reason"] != string(pipeline.ReasonVisionUnavailable) {
		t.Fatalf("unexpected reason %+v", res.Meta)
	}
	headerKey := objectstore.HeaderKey("E1", "p1.png")
	waitFor(t, "header archive", func() bool {
		ok, _ := h.objects.Exists(context.Background(), headerKey)
		return ok
	})
	if h.objects.ContentType(headerKey) != objectstore.ContentTypeJPEG {
		t.Fatalf("expected jpeg header, got %q", h.objects.ContentType(headerKey))
	}
	if ok, _ := h.objects.Exists(context.Background(), objectstore.OriginalKey("E1", "", "p1.png")); !ok {
		t.Fatal("expected original archived under unknown_id")
	}
	waitFor(t, "unresolved notification", func() bool { return len(h.notifications("unresolved")) == 1 })
	if n := h.notifications("unresolved")[0]; n.Detail != "vlm_unavailable" || n.Filename != "p1.png" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestMalformedAndOwnMessagesAreAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	own, err := events.NewResult("E1", "20231234", "p1.png", 3).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.sendRaw(t, []byte("{not json"))
	h.sendRaw(t, own)
	h.send(t, events.Inbound{EventType: events.StudentIDRecognition, ExamCode: "E1", Filename: "p1.png"})

	waitFor(t, "acks", func() bool { return h.input.Len() == 0 })
	if h.output.Len() != 0 {
		t.Fatalf("expected nothing published, got %d", h.output.Len())
	}
	if h.state.PoisonAttempts(examstate.PoisonKey{ExamCode: "E1", Filename: "p1.png"}) != 0 {
		t.Fatal("dropped messages must not count roster waits")
	}
}

func TestUnknownEventTypeIsLeftForRedelivery(t *testing.T) {
	h := newHarness(t, testsupport.WithVisibilityTimeout(60))
	h.start(t)

	h.sendRaw(t, []byte(`{"eventType":"SOMETHING_NEW","examCode":"E1"}`))
	waitFor(t, "unhandled outcome", func() bool {
		return h.manager.Status(context.Background()).Outcomes["unhandled"] == 1
	})
	if h.input.Len() != 1 {
		t.Fatalf("expected message to stay queued, len=%d", h.input.Len())
	}
	stats, _ := h.input.Stats(context.Background())
	if stats.InFlight != 1 {
		t.Fatalf("expected message in flight until visibility expires, got %+v", stats)
	}
}

func TestDownloadFailureRetriesWithoutPublishingOrConsumingSequence(t *testing.T) {
	h := newHarness(t, testsupport.WithVisibilityTimeout(60))
	h.state.LoadRoster(context.Background(), "E1", []string{"20231234"})
	h.start(t)

	h.send(t, imageMessage("E1", "p1.png", "uploads/E1/missing.png"))
	waitFor(t, "retry outcome", func() bool {
		return h.manager.Status(context.Background()).Outcomes["retry"] == 1
	})
	h.manager.Stop()

	if h.output.Len() != 0 || h.input.Len() != 1 {
		t.Fatalf("expected message left and nothing published, output=%d input=%d", h.output.Len(), h.input.Len())
	}
	if seq := h.state.NextSequence(context.Background(), "E1"); seq != 1 {
		t.Fatalf("download failure consumed a sequence number: next=%d", seq)
	}
	if status := h.manager.Status(context.Background()); status.LastError == "" || status.Running {
		t.Fatalf("expected last error recorded and manager stopped, got %+v", status)
	}
}

func TestStatusReportsStageHealthAndQueues(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status := h.manager.Status(context.Background())
	if !status.Running {
		t.Fatal("expected running status")
	}
	if len(status.StageHealth) != 5 {
		t.Fatalf("expected five stages, got %+v", status.StageHealth)
	}
	for _, health := range status.StageHealth {
		if !health.Ready {
			t.Fatalf("stage %s not ready: %s", health.Name, health.Detail)
		}
		if health.Name == "recognition" && health.Detail != "vision fallback disabled" {
			t.Fatalf("expected vision detail, got %q", health.Detail)
		}
	}
	if _, ok := status.QueueStats["input"]; !ok {
		t.Fatalf("expected input queue stats, got %+v", status.QueueStats)
	}
	if err := h.manager.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

func TestStopReturnsWithinShutdownTimeout(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	done := make(chan struct{})
	go func() {
		h.manager.Stop()
		h.manager.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(h.cfg.Workflow.ShutdownTimeout+1) * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPublishFailureLeavesMessageForRedelivery(t *testing.T) {
	h := newHarness(t)
	flaky := &flakyQueue{Queue: h.output, failures: 2}
	h.topo.Output = flaky
	h.manager = h.newManager(h.objects)
	h.state.LoadRoster(context.Background(), "E1", []string{"20231234"})
	h.resolver.Outcome = resolvedOutcome("20231234")
	testsupport.PutObject(t, h.objects, "uploads/E1/p1.png", testsupport.PNG(t, 40, 40), "image/png")
	h.start(t)

	h.send(t, imageMessage("E1", "p1.png", "uploads/E1/p1.png"))
	waitFor(t, "published result", func() bool { return h.output.Len() == 1 })
	waitFor(t, "ack", func() bool { return h.input.Len() == 0 })
	h.manager.Stop()

	if got := flaky.calls.Load(); got != 3 {
		t.Fatalf("expected 3 send attempts, got %d", got)
	}
	if got := h.manager.Status(context.Background()).Outcomes["retry"]; got != 2 {
		t.Fatalf("expected 2 retries while publishing failed, got %d", got)
	}
	res := h.results(t)[0]
	if res.Index != 1 || res.StudentID != "20231234" {
		t.Fatalf("expected first ordinal kept across redeliveries, got %+v", res)
	}
	if seq := h.state.NextSequence(context.Background(), "E1"); seq != 2 {
		t.Fatalf("failed publishes consumed ordinals: next=%d", seq)
	}
}

func TestArchiveFailureStillAcknowledges(t *testing.T) {
	h := newHarness(t)
	archive := &readOnlyStore{Store: h.objects}
	h.manager = h.newManager(archive)
	h.state.LoadRoster(context.Background(), "E1", []string{"20231234"})
	h.resolver.Outcome = unresolvedOutcome(image.NewRGBA(image.Rect(0, 0, 10, 4)))
	testsupport.PutObject(t, h.objects, "uploads/E1/p1.png", testsupport.PNG(t, 40, 40), "image/png")
	h.start(t)

	h.send(t, imageMessage("E1", "p1.png", "uploads/E1/p1.png"))
	waitFor(t, "published result", func() bool { return h.output.Len() == 1 })
	waitFor(t, "ack", func() bool { return h.input.Len() == 0 })
	h.manager.Stop()

	if got := archive.puts.Load(); got != 2 {
		t.Fatalf("expected original and header writes attempted, got %d", got)
	}
	res := h.results(t)[0]
	if res.StudentID != events.UnknownStudentID || res.Index != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.manager.Status(context.Background()).Outcomes["retry"]; got != 0 {
		t.Fatalf("archive failure must not cause retries, got %d", got)
	}
}
