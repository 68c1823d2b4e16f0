package examstate

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/studentid"
)

// PoisonKey identifies one work item for retry counting.
type PoisonKey struct {
	ExamCode string
	Filename string
}

func (k PoisonKey) String() string {
	return k.ExamCode + ":" + k.Filename
}

// Summary describes one exam for status surfaces.
type Summary struct {
	ExamCode     string `json:"examCode"`
	StudentCount int    `json:"studentCount"`
	Sequence     int    `json:"sequence"`
	HasMetadata  bool   `json:"hasMetadata"`
}

type exam struct {
	ids      []string
	roster   studentid.Roster
	sequence int
	metadata *events.AnswerMetadata
}

// Snapshot persists exam state across restarts.
type Snapshot interface {
	SaveRoster(ctx context.Context, examCode string, ids []string) error
	SaveSequence(ctx context.Context, examCode string, sequence int) error
	SaveMetadata(ctx context.Context, examCode string, raw []byte) error
	LoadAll(ctx context.Context) ([]Record, error)
}

// Record is one persisted exam.
type Record struct {
	ExamCode string
	IDs      []string
	Sequence int
	Metadata []byte
}

// Store is the concurrency-safe exam state registry.
type Store struct {
	mu       sync.Mutex
	exams    map[string]*exam
	poison   map[PoisonKey]int
	assigned map[PoisonKey]int
	snapshot Snapshot
	logger   *slog.Logger

	// snapMu is taken before mu is released so snapshot writes land in the
	// order the in-memory changes were made.
	snapMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshot writes state through to snap.
func WithSnapshot(snap Snapshot) Option {
	return func(s *Store) { s.snapshot = snap }
}

// WithLogger sets the logger used for snapshot failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.NewComponentLogger(logger, "examstate") }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		exams:  make(map[string]*exam),
		poison:   make(map[PoisonKey]int),
		assigned: make(map[PoisonKey]int),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Restore loads persisted exams from the snapshot. It is a no-op without one.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.snapshot == nil {
		return 0, nil
	}
	records, err := s.snapshot.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		e := s.examLocked(rec.ExamCode)
		e.ids = append([]string(nil), rec.IDs...)
		e.roster = studentid.NewRoster(rec.IDs)
		e.sequence = rec.Sequence
		if len(rec.Metadata) > 0 {
			if meta, err := events.DecodeAnswerMetadata(rec.Metadata); err == nil {
				e.metadata = &meta
			} else {
				logging.WarnWithContext(s.logger, "persisted answer metadata unreadable; dropped", "state_restore_failed",
					logging.ExamCode(rec.ExamCode),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "re-upload the answer metadata for this exam"),
					logging.String(logging.FieldImpact, "answer recognition waits for new metadata"),
				)
			}
		}
	}
	return len(records), nil
}

func (s *Store) examLocked(code string) *exam {
	e, ok := s.exams[code]
	if !ok {
		e = &exam{}
		s.exams[code] = e
	}
	return e
}

// LoadRoster replaces the roster for examCode and resets its sequence.
// Ordinals held for unpublished items of the exam are forgotten.
func (s *Store) LoadRoster(ctx context.Context, examCode string, ids []string) {
	copied := append([]string(nil), ids...)
	s.mu.Lock()
	e := s.examLocked(examCode)
	e.ids = copied
	e.roster = studentid.NewRoster(copied)
	e.sequence = 0
	for key := range s.assigned {
		if key.ExamCode == examCode {
			delete(s.assigned, key)
		}
	}
	s.snapMu.Lock()
	s.mu.Unlock()
	defer s.snapMu.Unlock()

	s.persist(examCode, "roster", func(snap Snapshot) error {
		return snap.SaveRoster(ctx, examCode, copied)
	})
}

// Roster returns the loaded identifiers in load order, or nil.
func (s *Store) Roster(examCode string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[examCode]
	if !ok {
		return nil
	}
	return append([]string(nil), e.ids...)
}

// RosterSet returns the roster as a lookup set. The set is replaced, never
// mutated, by LoadRoster, so callers may read it without the lock.
func (s *Store) RosterSet(examCode string) studentid.Roster {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.exams[examCode]; ok {
		return e.roster
	}
	return nil
}

// NextSequence pre-increments and returns the ordinal for examCode.
func (s *Store) NextSequence(ctx context.Context, examCode string) int {
	s.mu.Lock()
	seq := s.incrementLocked(examCode)
	s.snapMu.Lock()
	s.mu.Unlock()
	defer s.snapMu.Unlock()

	s.saveSequence(ctx, examCode, seq)
	return seq
}

// AssignSequence returns the ordinal held for key, taking the next one for
// the exam on first use. Redeliveries of an item whose result was never
// published get the same ordinal back until ReleaseSequence.
func (s *Store) AssignSequence(ctx context.Context, key PoisonKey) int {
	s.mu.Lock()
	if seq, ok := s.assigned[key]; ok {
		s.mu.Unlock()
		return seq
	}
	seq := s.incrementLocked(key.ExamCode)
	s.assigned[key] = seq
	s.snapMu.Lock()
	s.mu.Unlock()
	defer s.snapMu.Unlock()

	s.saveSequence(ctx, key.ExamCode, seq)
	return seq
}

// ReleaseSequence forgets the ordinal held for key once its result is out.
func (s *Store) ReleaseSequence(key PoisonKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assigned, key)
}

func (s *Store) incrementLocked(examCode string) int {
	e := s.examLocked(examCode)
	e.sequence++
	return e.sequence
}

// saveSequence must run with snapMu held.
func (s *Store) saveSequence(ctx context.Context, examCode string, seq int) {
	s.persist(examCode, "sequence", func(snap Snapshot) error {
		return snap.SaveSequence(ctx, examCode, seq)
	})
}

// RecordPoisonAttempt increments and returns the attempt count for key.
func (s *Store) RecordPoisonAttempt(key PoisonKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poison[key]++
	return s.poison[key]
}

// PoisonAttempts returns the current attempt count for key.
func (s *Store) PoisonAttempts(key PoisonKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poison[key]
}

// ClearPoisonAttempt forgets key.
func (s *Store) ClearPoisonAttempt(key PoisonKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.poison, key)
}

// SetAnswerMetadata stores the answer key for examCode.
func (s *Store) SetAnswerMetadata(ctx context.Context, examCode string, meta events.AnswerMetadata) {
	s.mu.Lock()
	e := s.examLocked(examCode)
	e.metadata = &meta
	if len(meta.Raw) == 0 {
		s.mu.Unlock()
		return
	}
	s.snapMu.Lock()
	s.mu.Unlock()
	defer s.snapMu.Unlock()

	s.persist(examCode, "metadata", func(snap Snapshot) error {
		return snap.SaveMetadata(ctx, examCode, meta.Raw)
	})
}

// AnswerMetadata returns the answer key for examCode.
func (s *Store) AnswerMetadata(examCode string) (events.AnswerMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[examCode]
	if !ok || e.metadata == nil {
		return events.AnswerMetadata{}, false
	}
	return *e.metadata, true
}

// Exams summarises every exam with a loaded roster or metadata, sorted by code.
func (s *Store) Exams() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(s.exams))
	for code, e := range s.exams {
		if e.ids == nil && e.metadata == nil {
			continue
		}
		out = append(out, Summary{
			ExamCode:     code,
			StudentCount: len(e.ids),
			Sequence:     e.sequence,
			HasMetadata:  e.metadata != nil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExamCode < out[j].ExamCode })
	return out
}

func (s *Store) persist(examCode, what string, fn func(Snapshot) error) {
	if s.snapshot == nil {
		return
	}
	if err := fn(s.snapshot); err != nil {
		logging.WarnWithContext(s.logger, "exam state snapshot failed; continuing in memory", "state_persist_failed",
			logging.ExamCode(examCode),
			logging.String("kind", what),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions and free disk space"),
			logging.String(logging.FieldImpact, "state is lost if the worker restarts"),
		)
	}
}
