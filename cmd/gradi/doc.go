// Command gradi is the operator CLI for the gradi exam recognition worker.
//
// It runs the worker in the foreground (gradi run), reports the health of a
// running worker over its HTTP surface (gradi status), manages the input
// queue's dead-letter queue (gradi dlq), enqueues storage notifications by
// hand (gradi ingest), and manages configuration (gradi config).
package main
