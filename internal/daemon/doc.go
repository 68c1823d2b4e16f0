// Package daemon owns the long-running gradi worker process lifecycle.
//
// It holds a flock in the log directory so only one worker runs per host,
// starts and stops the workflow manager, and serves the small HTTP surface
// operators use: health, loaded exams, and manual student id correction for
// images the worker could not identify.
//
// Recognition logic lives in pipeline and workflow; the daemon only
// coordinates startup, shutdown, and the operator endpoints.
package daemon
