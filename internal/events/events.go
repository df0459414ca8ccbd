package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	TypeLedgerTransaction = "ledger.transaction"
	TypeSessionStarted    = "lab.session_started"
	TypeSessionEnded      = "lab.session_ended"
)

// Event is the envelope published for every committed ledger or session change.
type Event struct {
	Type        string      `json:"type"`
	PhoneNumber string      `json:"phoneNumber"`
	OccurredAt  time.Time   `json:"occurredAt"`
	Payload     interface{} `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.WithFields(logrus.Fields{
		"event": event.Type,
		"phone": event.PhoneNumber,
	}).Debug("Event published")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
