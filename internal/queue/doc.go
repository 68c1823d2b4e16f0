// Package queue is the durable message transport between the upload
// pipeline, this worker, and downstream consumers.
//
// Every backend offers at-least-once delivery with a visibility timeout: a
// received message stays invisible until it is deleted or the timeout lapses,
// after which it is delivered again with a higher receive count. Backends:
//
//   - SQS: production transport; FIFO queues partition by exam code.
//   - Redis: self-hosted transport built on lists and a visibility sorted set.
//   - Memory: in-process transport for tests and local runs.
//
// Open builds the full Topology (input, output, optional fallback, and the
// dead-letter queue) from configuration.
package queue
