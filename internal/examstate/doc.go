// Package examstate owns the per-exam registries the worker consults: the
// loaded roster, the consumption-order sequence counter, the answer metadata,
// and the poison counters that bound roster-wait retries.
//
// Store is safe for concurrent use by the worker loop and the background
// answer batches. State is process-scoped unless a Snapshot is attached, in
// which case rosters, counters, and metadata are written through to SQLite and
// reloaded at startup. Poison counters are never persisted.
package examstate
