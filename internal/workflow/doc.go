// Package workflow consumes the input queue and drives every work item to a
// definitive outcome.
//
// The Manager long-polls one message at a time, decodes it, routes it by
// eventType to a stage.Handler, and acknowledges or leaves the message for
// redelivery according to the returned stage.Outcome. Handlers cover roster
// uploads, student identification, answer key uploads, per-sheet answer
// recognition and the grading completion placeholder.
//
// Not-ready conditions (an image arriving before its roster, an answer sheet
// before its answer key) are retried through queue redelivery and bounded by a
// per (exam, filename) attempt counter kept in examstate. Once the bound is
// reached a terminal failure result is published and the message is removed.
//
// Answer key uploads also start a background batch over every archived image
// of the exam. Batches run concurrently with the main loop, bounded by
// workflow.batch_concurrency and workflow.batch_rate_per_second.
package workflow
