package kafka

import (
	"context"
	"time"

	"github.com/faredown/bargain-engine/internal/bargain"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// EventSink publishes enveloped bargain events.
type EventSink struct {
	Producer *Producer
	Service  string
}

func (s *EventSink) Emit(_ context.Context, eventType, sessionID string, payload any) {
	ev := bargain.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Service,
		CorrelationID: sessionID,
		Payload:       MustMarshal(payload),
	}
	s.Producer.Publish(bargain.PartitionKey(sessionID), MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
