package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() Event {
	return Event{
		ID:            "evt-1",
		AggregateType: "trial",
		AggregateID:   "trial-1",
		EventType:     "trial.updated",
		Payload:       json.RawMessage(`{"entity_id":"trial-1"}`),
		OccurredAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("writes keyed message with headers", func(t *testing.T) {
		w := &fakeWriter{}
		p := newKafkaPublisher(w, "feed-changes", zerolog.Nop())

		require.NoError(t, p.Publish(ctx, testEvent()))
		require.Len(t, w.messages, 1)

		msg := w.messages[0]
		assert.Equal(t, "trial-1", string(msg.Key))
		assert.Equal(t, []kafka.Header{
			{Key: "event_type", Value: []byte("trial.updated")},
			{Key: "event_id", Value: []byte("evt-1")},
		}, msg.Headers)

		var decoded Event
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, "trial.updated", decoded.EventType)
		assert.JSONEq(t, `{"entity_id":"trial-1"}`, string(decoded.Payload))
	})

	t.Run("wraps writer errors", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("leader not available")}
		p := newKafkaPublisher(w, "feed-changes", zerolog.Nop())

		err := p.Publish(ctx, testEvent())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "write trial.updated event")
	})

	t.Run("close closes writer", func(t *testing.T) {
		w := &fakeWriter{}
		p := newKafkaPublisher(w, "feed-changes", zerolog.Nop())
		require.NoError(t, p.Close())
		assert.True(t, w.closed)
	})
}

func TestNewKafkaPublisher(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zerolog.Nop())
	require.NoError(t, err)
	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 100, w.BatchSize)
	assert.Equal(t, time.Second, w.BatchTimeout)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.NoError(t, p.Close())
}
