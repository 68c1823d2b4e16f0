// Package notifications sends ntfy push notifications for events an operator
// should act on: images that need manual identification, images abandoned
// because their roster never arrived, and answer batches finishing.
//
// NewService returns a no-op service when no topic is configured. Callers log
// notification failures and never let them change a message outcome.
package notifications
