package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/notifications"
	"gradi/internal/objectstore"
	"gradi/internal/recognition"
	"gradi/internal/services"
)

var errUnmapped = errors.New("unresolved image has no correction in the answer key")

// batchRunner runs answer recognition over every archived image of an exam.
// Uploading a new answer key while a batch for the same exam is running
// cancels the older batch.
type batchRunner struct {
	objects     objectstore.Store
	processor   *answerProcessor
	notifier    notifications.Service
	concurrency int
	perSecond   int
	logger      *slog.Logger

	mu     sync.Mutex
	seq    uint64
	active map[string]batchEntry
	wg     sync.WaitGroup
}

type batchEntry struct {
	id     uint64
	cancel context.CancelFunc
}

// BatchReport summarises one finished batch.
type BatchReport struct {
	ExamCode  string
	Images    int
	Processed int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Start launches a batch in the background and returns immediately.
func (b *batchRunner) Start(ctx context.Context, examCode string, meta events.AnswerMetadata) {
	runCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	if prev, ok := b.active[examCode]; ok {
		prev.cancel()
	}
	b.seq++
	entry := batchEntry{id: b.seq, cancel: cancel}
	b.active[examCode] = entry
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer b.finish(examCode, entry)
		b.run(runCtx, examCode, meta)
	}()
}

func (b *batchRunner) finish(examCode string, entry batchEntry) {
	entry.cancel()
	b.mu.Lock()
	if current, ok := b.active[examCode]; ok && current.id == entry.id {
		delete(b.active, examCode)
	}
	b.mu.Unlock()
}

// Wait blocks until every running batch returns.
func (b *batchRunner) Wait() {
	b.wg.Wait()
}

// Active lists exam codes with a running batch, sorted.
func (b *batchRunner) Active() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.active))
	for code := range b.active {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (b *batchRunner) run(ctx context.Context, examCode string, meta events.AnswerMetadata) BatchReport {
	logger := logging.WithContext(ctx, b.logger)
	start := time.Now()
	report := BatchReport{ExamCode: examCode}

	images, err := b.archived(ctx, examCode)
	if err != nil {
		logging.ErrorWithContext(logger, "answer batch could not list archived images", "answer_batch_list_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage credentials; re-upload the answer key to retry"),
		)
		if nerr := b.notifier.NotifyError(ctx, err, "answer batch "+examCode); nerr != nil {
			logNotifyFailure(logger, "answer batch error", nerr)
		}
		return report
	}
	report.Images = len(images)
	logger.Info("answer batch started",
		logging.String(logging.FieldEventType, "answer_batch_started"),
		logging.Int("images", len(images)),
	)

	limit := rate.Inf
	if b.perSecond > 0 {
		limit = rate.Limit(b.perSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	workers := b.concurrency
	if workers <= 0 {
		workers = 1
	}

	var processed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, img := range images {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			err := b.processOne(gctx, logger, meta, img)
			switch {
			case err == nil:
				processed.Add(1)
			case errors.Is(err, errUnmapped):
				skipped.Add(1)
				logger.Debug("skipping unresolved image without correction", logging.Filename(img.Filename))
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				logging.WarnWithContext(logger, "answer recognition failed for archived image", "answer_batch_item_failed",
					logging.String("key", img.Key),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "re-upload the answer key to retry the batch"),
				)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	report.Processed = int(processed.Load())
	report.Skipped = int(skipped.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)
	if waitErr != nil {
		logger.Info("answer batch cancelled",
			logging.String(logging.FieldEventType, "answer_batch_cancelled"),
			logging.Int("processed", report.Processed),
			logging.Error(waitErr),
		)
		return report
	}
	logger.Info("answer batch completed",
		logging.String(logging.FieldEventType, "answer_batch_completed"),
		logging.Int("images", report.Images),
		logging.Int("processed", report.Processed),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
		logging.Duration("duration", report.Duration),
	)
	if err := b.notifier.NotifyBatchCompleted(ctx, examCode, report.Processed, report.Failed, report.Duration); err != nil {
		logNotifyFailure(logger, "answer batch completed", err)
	}
	return report
}

func (b *batchRunner) archived(ctx context.Context, examCode string) ([]objectstore.ArchivedImage, error) {
	if b.objects == nil {
		return nil, services.Wrap(services.ErrConfiguration, stageAnswers, "list archive", "object store not configured", nil)
	}
	keys, err := b.objects.List(ctx, objectstore.OriginalPrefix(examCode))
	if err != nil {
		return nil, err
	}
	images := make([]objectstore.ArchivedImage, 0, len(keys))
	for _, key := range keys {
		img, ok := objectstore.ParseOriginalKey(key)
		if !ok || !objectstore.IsImage(img.Filename) {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

func (b *batchRunner) processOne(ctx context.Context, logger *slog.Logger, meta events.AnswerMetadata, archived objectstore.ArchivedImage) error {
	sid := answerStudentID(archived.StudentID, archived.Filename, meta)
	if sid == events.UnknownStudentID {
		return errUnmapped
	}
	data, err := b.objects.Get(ctx, archived.Key)
	if err != nil {
		return err
	}
	img, _, err := recognition.Decode(data)
	if err != nil {
		return err
	}
	res := b.processor.recognize(ctx, img, meta, archived.ExamCode, sid, archived.Filename)
	if err := b.processor.store(ctx, res); err != nil {
		return err
	}
	if err := b.processor.out.answer(ctx, res); err != nil {
		return err
	}
	b.processor.announce(ctx, logger, res)
	return nil
}
