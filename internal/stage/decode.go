package stage

import (
	"gradi/internal/events"
	"gradi/internal/services"
)

// DecodeMessage parses a queue body. On failure it returns a
// services.ErrValidation so the consumer drops the message.
func DecodeMessage(body []byte) (events.Inbound, error) {
	msg, err := events.DecodeInbound(body)
	if err != nil {
		return events.Inbound{}, services.Wrap(
			services.ErrValidation, "stage", "decode message",
			"Message body is not valid JSON; it cannot succeed on redelivery", err)
	}
	return msg, nil
}

// RequireDownloadURL rejects messages that carry no download reference.
func RequireDownloadURL(stageName string, msg events.Inbound) error {
	if msg.DownloadURL == "" {
		return services.Wrap(services.ErrValidation, stageName, "validate message",
			"downloadUrl missing; dropping message", nil)
	}
	return nil
}
