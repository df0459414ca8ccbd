package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherPublish(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, logger: logrus.New()}

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), Event{
		Type:        TypeLedgerTransaction,
		PhoneNumber: "+15550001",
		OccurredAt:  at,
		Payload:     map[string]int{"amount": 10},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "+15550001", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeLedgerTransaction, string(msg.Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, TypeLedgerTransaction, decoded["type"])
	assert.Equal(t, "+15550001", decoded["phoneNumber"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("broker down")}, logger: logrus.New()}

	err := p.Publish(context.Background(), Event{Type: TypeSessionStarted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lab.session_started")
	assert.Contains(t, err.Error(), "broker down")
}

func TestLogPublisher(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := NewLogPublisher(logger)

	assert.NoError(t, p.Publish(context.Background(), Event{Type: TypeSessionEnded}))
	assert.NoError(t, p.Close())
}
