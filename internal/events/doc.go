// Package events defines the JSON wire schema exchanged with the backend over
// the queues: inbound work items, per-image results, the roster-never-loaded
// error result, answer recognition documents and fallback announcements.
//
// All keys are camelCase. Decoding tolerates both schema generations seen in
// the field (filename/downloadUrl and fileName/imageUrl) and ignores unknown
// keys.
package events
