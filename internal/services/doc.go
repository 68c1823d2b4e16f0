// Package services defines shared utilities consumed by the workflow handlers
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp exam codes, filenames, stage names, message
//     ids and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and DispositionFor which
//     translates a handler failure into a consumer action (drop, retry, or a
//     retry that counts against the poison budget).
//
// Use these helpers when wiring new handler logic so operational behaviour
// (error handling, observability, retries) stays uniform across the worker.
package services
