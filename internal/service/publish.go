package service

import (
	"context"
	"time"

	"github.com/edlab/edlab/internal/events"
	"github.com/sirupsen/logrus"
)

// publish emits an event for a committed change. Failures are logged only:
// the change already happened and the caller's response must reflect it.
func publish(ctx context.Context, publisher events.Publisher, logger *logrus.Logger, eventType, phoneNumber string, at time.Time, payload interface{}) {
	err := publisher.Publish(ctx, events.Event{
		Type:        eventType,
		PhoneNumber: phoneNumber,
		OccurredAt:  at,
		Payload:     payload,
	})
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"event": eventType,
			"phone": phoneNumber,
		}).Warn("Failed to publish event")
	}
}
