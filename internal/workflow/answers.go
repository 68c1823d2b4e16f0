package workflow

import (
	"context"
	"image"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gradi/internal/events"
	"gradi/internal/logging"
	"gradi/internal/objectstore"
	"gradi/internal/recognition"
	"gradi/internal/services"
)

var integerPattern = regexp.MustCompile(`\d+`)

// answerProcessor recognises one answer sheet and delivers the result to the
// object store, the output queue and, for low-confidence sub-answers, the
// fallback queue. The per-message handler and the batch share it.
type answerProcessor struct {
	objects   objectstore.Store
	answers   recognition.AnswerRecognizer
	out       publisher
	threshold float64
	logger    *slog.Logger
}

func (p *answerProcessor) recognize(ctx context.Context, img image.Image, meta events.AnswerMetadata, examCode, studentID, filename string) events.AnswerResult {
	var readings []recognition.AnswerReading
	if p.answers != nil {
		readings = p.answers.RecognizeAnswers(ctx, img, meta)
	}
	return buildAnswerResult(meta, examCode, studentID, filename, readings, p.threshold)
}

func (p *answerProcessor) store(ctx context.Context, res events.AnswerResult) error {
	if p.objects == nil {
		return services.Wrap(services.ErrConfiguration, stageAnswers, "store result", "object store not configured", nil)
	}
	body, err := res.Encode()
	if err != nil {
		return services.Wrap(services.ErrValidation, stageAnswers, "encode result", "", err)
	}
	key := objectstore.AnswerResultKey(res.ExamCode, res.StudentID)
	if err := p.objects.Put(ctx, key, body, objectstore.ContentTypeJSON); err != nil {
		return services.Wrap(services.ErrTransient, stageAnswers, "store result", key, err)
	}
	return nil
}

// announce publishes a fallback notice for every flagged sub-answer and
// returns how many were sent. Failures are logged per notice.
func (p *answerProcessor) announce(ctx context.Context, logger *slog.Logger, res events.AnswerResult) int {
	sent := 0
	for _, item := range res.Answers {
		if !item.IsFallback {
			continue
		}
		notice := events.FallbackNotice{
			ExamCode:          res.ExamCode,
			StudentID:         res.StudentID,
			Filename:          res.Filename,
			QuestionNumber:    item.QuestionNumber,
			SubQuestionNumber: item.SubQuestionNumber,
			RawText:           item.RecAnswer.RawText,
		}
		if len(item.RecAnswer.Confidence) > 0 {
			notice.Confidence = item.RecAnswer.Confidence[0]
		}
		ok, err := p.out.notice(ctx, notice)
		if err != nil {
			logging.WarnWithContext(logger, "fallback notice failed", "answer_fallback_failed",
				logging.Int("question", item.QuestionNumber),
				logging.Int("sub_question", item.SubQuestionNumber),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue.fallback_url and queue permissions"),
				logging.String(logging.FieldImpact, "low-confidence answer is not queued for review; it is still flagged in result.json"),
			)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent
}

// buildAnswerResult merges recogniser readings with the answer key. Items are
// ordered by question and sub-question number.
func buildAnswerResult(meta events.AnswerMetadata, examCode, studentID, filename string, readings []recognition.AnswerReading, threshold float64) events.AnswerResult {
	res := events.NewAnswerResult(examCode, studentID, filename)
	for _, r := range readings {
		item := events.AnswerItem{
			QuestionNumber:    r.QuestionNumber,
			SubQuestionNumber: r.SubQuestionNumber,
			RecAnswer: events.RecAnswer{
				Values:     integersIn(firstNonBlank(r.RawText, r.RecAnswer)),
				Confidence: []float64{round4(r.Confidence)},
				RawText:    r.RawText,
			},
			IsFallback: r.Confidence < threshold,
		}
		if q, ok := meta.Lookup(r.QuestionNumber, r.SubQuestionNumber); ok {
			item.Point = q.Point
			item.AnswerCount = q.AnswerCount
			item.AnswerType = q.QuestionType
			item.CorrectAnswer = q.Answer
		}
		res.Answers = append(res.Answers, item)
	}
	sort.SliceStable(res.Answers, func(i, j int) bool {
		a, b := res.Answers[i], res.Answers[j]
		if a.QuestionNumber != b.QuestionNumber {
			return a.QuestionNumber < b.QuestionNumber
		}
		return a.SubQuestionNumber < b.SubQuestionNumber
	})
	return res
}

// answerStudentID picks the identifier an answer sheet is filed under: the id
// carried by the message, else the human correction recorded in the answer
// key, else unknown_id.
func answerStudentID(carried, filename string, meta events.AnswerMetadata) string {
	if carried != "" && carried != events.UnknownStudentID && events.ValidResultID(carried) {
		return carried
	}
	if sid, ok := meta.FallbackMap()[filename]; ok && events.ValidResultID(sid) {
		return sid
	}
	return events.UnknownStudentID
}

func integersIn(text string) []int {
	matches := integerPattern.FindAllString(text, -1)
	values := make([]int, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.Atoi(m); err == nil {
			values = append(values, v)
		}
	}
	return values
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
