package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-sync/internal/models"
)

// Broadcaster is the fire-and-forget room channel used for typing indicators.
// Nothing published here is persisted or guaranteed to arrive.
type Broadcaster interface {
	PublishTyping(ctx context.Context, ev models.TypingEvent) error
	SubscribeTyping(ctx context.Context, roomID string) (TypingSubscription, error)
	Close() error
}

// TypingSubscription yields typing events of one room until closed.
type TypingSubscription interface {
	Events() <-chan models.TypingEvent
	Close() error
}

// TypingRoutingKey is the topic used for a room's typing events.
func TypingRoutingKey(roomID string) string {
	return "room." + roomID + ".typing"
}

// NewBroadcaster connects to RabbitMQ or falls back to a noop broadcaster.
func NewBroadcaster(amqpURL, exchange string) Broadcaster {
	conn, ch, err := dialExchange(amqpURL, exchange)
	if err != nil {
		log.Printf("rabbitmq broadcast disabled, using noop: %v", err)
		return noopBroadcaster{}
	}
	log.Printf("rabbitmq broadcast connected exchange=%s", exchange)
	return &amqpBroadcaster{conn: conn, ch: ch, exchange: exchange}
}

type amqpBroadcaster struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

func (b *amqpBroadcaster) PublishTyping(ctx context.Context, ev models.TypingEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, TypingRoutingKey(ev.RoomID), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Expiration:   "3000",
		Body:         body,
	})
}

// SubscribeTyping binds an exclusive auto-delete queue to the room's topic.
func (b *amqpBroadcaster) SubscribeTyping(ctx context.Context, roomID string) (TypingSubscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, TypingRoutingKey(roomID), b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	sub := &amqpTypingSubscription{
		ch:     ch,
		events: make(chan models.TypingEvent, 16),
		done:   make(chan struct{}),
	}
	go sub.run(deliveries)
	return sub, nil
}

func (b *amqpBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

type amqpTypingSubscription struct {
	ch     *amqp.Channel
	events chan models.TypingEvent
	done   chan struct{}
	once   sync.Once
}

func (s *amqpTypingSubscription) Events() <-chan models.TypingEvent { return s.events }

func (s *amqpTypingSubscription) run(deliveries <-chan amqp.Delivery) {
	defer close(s.events)
	for d := range deliveries {
		var ev models.TypingEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			log.Printf("rabbitmq typing: bad payload err=%v", err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		default:
			// consumer is behind; typing events are disposable
		}
	}
}

func (s *amqpTypingSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ch.Close()
	})
	return err
}

type noopBroadcaster struct{}

func (noopBroadcaster) PublishTyping(ctx context.Context, ev models.TypingEvent) error {
	log.Printf("rabbitmq noop typing room_id=%s user_id=%s", ev.RoomID, ev.UserID)
	return nil
}

func (noopBroadcaster) SubscribeTyping(ctx context.Context, roomID string) (TypingSubscription, error) {
	return &noopTypingSubscription{events: make(chan models.TypingEvent)}, nil
}

func (noopBroadcaster) Close() error { return nil }

type noopTypingSubscription struct {
	events chan models.TypingEvent
	once   sync.Once
}

func (s *noopTypingSubscription) Events() <-chan models.TypingEvent { return s.events }

func (s *noopTypingSubscription) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}
