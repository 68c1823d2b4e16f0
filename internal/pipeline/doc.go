// Package pipeline resolves which student a scanned exam sheet belongs to.
//
// Resolve runs a strictly ordered, short-circuiting sequence:
//
//	layout detection -> header derivation -> per-region OCR -> roster match
//	                                     \-> vision fallback on the header (only when OCR found nothing)
//
// The resolver owns no state. The roster is passed in per call and every
// collaborator is absorbing, so Resolve never fails: it always returns an
// Outcome whose Reason explains the decision and whose Candidates record every
// region that was read.
package pipeline
