package examstate_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gradi/internal/events"
	"gradi/internal/examstate"
	"gradi/internal/testsupport"
)

func TestLoadRosterResetsSequence(t *testing.T) {
	ctx := context.Background()
	store := examstate.New()

	if got := store.Roster("E1"); len(got) != 0 {
		t.Fatalf("expected empty roster before load, got %v", got)
	}

	store.LoadRoster(ctx, "E1", []string{"20230001", "20230002"})
	for want := 1; want <= 3; want++ {
		if got := store.NextSequence(ctx, "E1"); got != want {
			t.Fatalf("NextSequence = %d, want %d", got, want)
		}
	}

	store.LoadRoster(ctx, "E1", []string{"20230003"})
	if got := store.NextSequence(ctx, "E1"); got != 1 {
		t.Fatalf("expected sequence reset after reload, got %d", got)
	}
	if got := store.Roster("E1"); len(got) != 1 || got[0] != "20230003" {
		t.Fatalf("expected roster replaced wholesale, got %v", got)
	}
	if !store.RosterSet("E1").Contains("20230003") || store.RosterSet("E1").Contains("20230001") {
		t.Fatal("roster set out of sync with roster list")
	}
}

func TestRosterReturnsCopy(t *testing.T) {
	store := examstate.New()
	ids := []string{"20230001"}
	store.LoadRoster(context.Background(), "E1", ids)
	ids[0] = "mutated"

	got := store.Roster("E1")
	got[0] = "also mutated"
	if store.Roster("E1")[0] != "20230001" {
		t.Fatal("store leaked its roster slice")
	}
}

func TestPoisonCounters(t *testing.T) {
	store := examstate.New()
	key := examstate.PoisonKey{ExamCode: "E1", Filename: "a.jpg"}
	other := examstate.PoisonKey{ExamCode: "E1", Filename: "b.jpg"}

	for want := 1; want <= 3; want++ {
		if got := store.RecordPoisonAttempt(key); got != want {
			t.Fatalf("RecordPoisonAttempt = %d, want %d", got, want)
		}
	}
	if store.PoisonAttempts(other) != 0 {
		t.Fatal("counters must be per key")
	}
	store.ClearPoisonAttempt(key)
	if got := store.RecordPoisonAttempt(key); got != 1 {
		t.Fatalf("expected counter restart after clear, got %d", got)
	}
	if key.String() != "E1:a.jpg" {
		t.Fatalf("unexpected key rendering %q", key.String())
	}
}

func TestAnswerMetadata(t *testing.T) {
	store := examstate.New()
	if _, ok := store.AnswerMetadata("E1"); ok {
		t.Fatal("expected no metadata before upload")
	}
	meta, err := events.DecodeAnswerMetadata([]byte(`{"examCode":"E1","questions":[{"questionNumber":1,"answer":"3"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	store.SetAnswerMetadata(context.Background(), "E1", meta)
	got, ok := store.AnswerMetadata("E1")
	if !ok || len(got.Questions) != 1 {
		t.Fatalf("expected stored metadata, got %+v", got)
	}

	exams := store.Exams()
	if len(exams) != 1 || !exams[0].HasMetadata || exams[0].StudentCount != 0 {
		t.Fatalf("unexpected summaries %+v", exams)
	}
}

func TestConcurrentSequenceIsGapFree(t *testing.T) {
	ctx := context.Background()
	store := examstate.New()
	store.LoadRoster(ctx, "E1", []string{"20230001"})

	const workers, perWorker = 8, 50
	seen := make(chan int, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				seen <- store.NextSequence(ctx, "E1")
			}
		}()
	}
	wg.Wait()
	close(seen)

	got := make(map[int]bool)
	for n := range seen {
		if got[n] {
			t.Fatalf("sequence %d issued twice", n)
		}
		got[n] = true
	}
	for n := 1; n <= workers*perWorker; n++ {
		if !got[n] {
			t.Fatalf("sequence %d missing", n)
		}
	}
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t, testsupport.WithStatePersistence())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	path := cfg.StateDBPath()
	if rel, err := filepath.Rel(testsupport.BaseDir(cfg), path); err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("state db %s outside test dir", path)
	}

	snap, err := examstate.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store := examstate.New(examstate.WithSnapshot(snap))
	store.LoadRoster(ctx, "E1", []string{"20230001", "20230002"})
	store.NextSequence(ctx, "E1")
	store.NextSequence(ctx, "E1")
	meta, _ := events.DecodeAnswerMetadata([]byte(`{"examCode":"E2","questions":[]}`))
	store.SetAnswerMetadata(ctx, "E2", meta)
	store.RecordPoisonAttempt(examstate.PoisonKey{ExamCode: "E1", Filename: "x.jpg"})
	if err := snap.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := examstate.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	restored := examstate.New(examstate.WithSnapshot(reopened))
	n, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exams restored, got %d", n)
	}
	if got := restored.Roster("E1"); len(got) != 2 || got[1] != "20230002" {
		t.Fatalf("unexpected restored roster %v", got)
	}
	if got := restored.NextSequence(ctx, "E1"); got != 3 {
		t.Fatalf("expected sequence to continue at 3, got %d", got)
	}
	if _, ok := restored.AnswerMetadata("E2"); !ok {
		t.Fatal("expected metadata restored")
	}
	if restored.PoisonAttempts(examstate.PoisonKey{ExamCode: "E1", Filename: "x.jpg"}) != 0 {
		t.Fatal("poison counters must not persist")
	}
}

type failingSnapshot struct{}

func (failingSnapshot) SaveRoster(context.Context, string, []string) error { return errors.New("disk full") }
func (failingSnapshot) SaveSequence(context.Context, string, int) error { return errors.New("disk full") }
func (failingSnapshot) SaveMetadata(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingSnapshot) LoadAll(context.Context) ([]examstate.Record, error) {
	return nil, errors.New("disk full")
}

func TestSnapshotFailuresDoNotBlockMemoryState(t *testing.T) {
	ctx := context.Background()
	store := examstate.New(examstate.WithSnapshot(failingSnapshot{}))
	store.LoadRoster(ctx, "E1", []string{"20230001"})
	if got := store.NextSequence(ctx, "E1"); got != 1 {
		t.Fatalf("expected in-memory sequence despite snapshot failure, got %d", got)
	}
	if _, err := store.Restore(ctx); err == nil {
		t.Fatal("expected restore error to surface")
	}
}

func TestAssignSequenceIsStableUntilReleased(t *testing.T) {
	ctx := context.Background()
	store := examstate.New()
	store.LoadRoster(ctx, "E1", []string{"20230001"})
	first := examstate.PoisonKey{ExamCode: "E1", Filename: "p1.png"}
	second := examstate.PoisonKey{ExamCode: "E1", Filename: "p2.png"}

	for range 3 {
		if got := store.AssignSequence(ctx, first); got != 1 {
			t.Fatalf("AssignSequence(first) = %d, want 1 on every redelivery", got)
		}
	}
	if got := store.AssignSequence(ctx, second); got != 2 {
		t.Fatalf("AssignSequence(second) = %d, want 2", got)
	}

	store.ReleaseSequence(first)
	if got := store.AssignSequence(ctx, first); got != 3 {
		t.Fatalf("released key should take a fresh ordinal, got %d", got)
	}

	store.LoadRoster(ctx, "E1", []string{"20230002"})
	if got := store.AssignSequence(ctx, second); got != 1 {
		t.Fatalf("roster reload should drop held ordinals, got %d", got)
	}
}

// orderedSnapshot records sequence saves and fails the test if one arrives
// lower than a value already written.
type orderedSnapshot struct {
	t    *testing.T
	mu   sync.Mutex
	last map[string]int
}

func (o *orderedSnapshot) SaveRoster(context.Context, string, []string) error { return nil }
func (o *orderedSnapshot) SaveMetadata(context.Context, string, []byte) error { return nil }
func (o *orderedSnapshot) LoadAll(context.Context) ([]examstate.Record, error) {
	return nil, nil
}
func (o *orderedSnapshot) SaveSequence(_ context.Context, examCode string, sequence int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sequence < o.last[examCode] {
		o.t.Errorf("sequence %d saved after %d", sequence, o.last[examCode])
	}
	o.last[examCode] = sequence
	return nil
}

func TestConcurrentSequenceSnapshotsLandInOrder(t *testing.T) {
	ctx := context.Background()
	snap := &orderedSnapshot{t: t, last: make(map[string]int)}
	store := examstate.New(examstate.WithSnapshot(snap))
	store.LoadRoster(ctx, "E1", []string{"20230001"})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				if j%2 == 0 {
					store.NextSequence(ctx, "E1")
				} else {
					store.AssignSequence(ctx, examstate.PoisonKey{ExamCode: "E1", Filename: fmt.Sprintf("w%d-%d.png", i, j)})
				}
			}
		}()
	}
	wg.Wait()
	if snap.last["E1"] != 400 {
		t.Fatalf("last saved sequence = %d, want 400", snap.last["E1"])
	}
}
