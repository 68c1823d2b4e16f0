// Package dlq implements operator tooling for the dead-letter queue that
// collects input messages the worker failed to process within the configured
// receive count.
//
// Tool works against any queue.Inspector pair so the same status, peek, purge
// and redrive flows run on SQS, Redis, and the in-memory backend. Setup is
// SQS-only because only SQS attaches redrive policies server-side.
package dlq
