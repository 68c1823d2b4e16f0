// Package logging assembles structured slog loggers and formatting helpers used
// across the gradi worker and CLI.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context-aware helpers so handlers automatically tag log lines with the exam
// code, filename, stage, and correlation ID of the message in flight. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
