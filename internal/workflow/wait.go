package workflow

import (
	"gradi/internal/examstate"
)

// waitPolicy bounds how often a message may be redelivered while the state it
// depends on (a roster or an answer key) has not been loaded yet.
type waitPolicy struct {
	state *examstate.Store
	max   int
}

// attempt records one not-ready delivery. exhausted is true once the count
// reaches the configured maximum.
func (p waitPolicy) attempt(key examstate.PoisonKey) (attempts int, exhausted bool) {
	attempts = p.state.RecordPoisonAttempt(key)
	limit := p.max
	if limit <= 0 {
		limit = 1
	}
	return attempts, attempts >= limit
}

// clear forgets the attempt count and any ordinal held for key.
func (p waitPolicy) clear(key examstate.PoisonKey) {
	p.state.ClearPoisonAttempt(key)
	p.state.ReleaseSequence(key)
}

func poisonKey(examCode, filename string) examstate.PoisonKey {
	return examstate.PoisonKey{ExamCode: examCode, Filename: filename}
}
