package observability

import (
	"context"
	"sync"
)

// Publisher is the subset of the AMQP publisher used for service events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent sends an envelope to the configured publisher. It is a no-op
// until SetPublisher is called.
func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	if len(headers) > 0 {
		envelope.Headers = headers
	}
	err := publisher.Publish(ctx, routingKey, envelope)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

// PublishSyncEvent reports a session state change such as entering poll-only mode.
func PublishSyncEvent(ctx context.Context, name, userID, roomID, reason string) {
	_ = PublishEvent(ctx, "sync_events."+name, EventEnvelope{
		EventType: "sync_events",
		EventName: name,
		Payload: map[string]interface{}{
			"user_id": userID,
			"room_id": roomID,
			"reason":  reason,
		},
	}, nil)
}
