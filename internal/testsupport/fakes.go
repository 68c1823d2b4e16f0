package testsupport

import (
	"context"
	"image"
	"strconv"
	"sync"
	"time"

	"gradi/internal/events"
	"gradi/internal/notifications"
	"gradi/internal/pipeline"
	"gradi/internal/recognition"
	"gradi/internal/studentid"
)

// FakeResolver returns Outcome for every page, or the result of Func when set.
type FakeResolver struct {
	Outcome pipeline.Outcome
	Func    func(studentid.Roster) pipeline.Outcome
	Vision  bool

	mu    sync.Mutex
	calls int
}

func (f *FakeResolver) Resolve(_ context.Context, _ image.Image, roster studentid.Roster) pipeline.Outcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Func != nil {
		return f.Func(roster)
	}
	return f.Outcome
}

func (f *FakeResolver) HasVision() bool { return f.Vision }

// Calls reports how many pages were resolved.
func (f *FakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeAnswers returns Readings for every sheet.
type FakeAnswers struct {
	Readings []recognition.AnswerReading

	mu    sync.Mutex
	calls int
}

func (f *FakeAnswers) RecognizeAnswers(context.Context, image.Image, events.AnswerMetadata) []recognition.AnswerReading {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return append([]recognition.AnswerReading(nil), f.Readings...)
}

// Calls reports how many sheets were recognised.
func (f *FakeAnswers) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Notification is one call recorded by RecordingNotifier.
type Notification struct {
	Kind     string
	ExamCode string
	Filename string
	Detail   string
	Count    int
}

// RecordingNotifier captures notifications in memory.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []Notification
}

var _ notifications.Service = (*RecordingNotifier)(nil)

func (r *RecordingNotifier) add(n Notification) error {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded notifications.
func (r *RecordingNotifier) Events() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.events...)
}

func (r *RecordingNotifier) NotifyRosterLoaded(_ context.Context, examCode string, students int) error {
	return r.add(Notification{Kind: "roster_loaded", ExamCode: examCode, Count: students})
}

func (r *RecordingNotifier) NotifyUnresolved(_ context.Context, examCode, filename, reason string) error {
	return r.add(Notification{Kind: "unresolved", ExamCode: examCode, Filename: filename, Detail: reason})
}

func (r *RecordingNotifier) NotifyRosterAbandoned(_ context.Context, examCode, filename string, attempts int) error {
	return r.add(Notification{Kind: "roster_abandoned", ExamCode: examCode, Filename: filename, Count: attempts})
}

func (r *RecordingNotifier) NotifyBatchCompleted(_ context.Context, examCode string, processed, failed int, _ time.Duration) error {
	return r.add(Notification{Kind: "batch_completed", ExamCode: examCode, Count: processed, Detail: strconv.Itoa(failed)})
}

func (r *RecordingNotifier) NotifyError(_ context.Context, err error, label string) error {
	detail := label
	if err != nil {
		detail += ": " + err.Error()
	}
	return r.add(Notification{Kind: "error", Detail: detail})
}

func (r *RecordingNotifier) TestNotification(context.Context) error {
	return r.add(Notification{Kind: "test"})
}
