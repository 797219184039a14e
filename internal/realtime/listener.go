package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jackc/pgx/v5"

	"chat-sync/internal/db"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

// Subscription delivers change events for one room. Events is closed when the
// subscription ends; Err then reports why (nil after Close).
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Err() error
	Close() error
}

// RecordGetter loads the current row for a notified message id.
type RecordGetter interface {
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

// PGNotifier subscribes to the messages trigger with a dedicated LISTEN connection.
type PGNotifier struct {
	dsn     string
	records RecordGetter
}

// NewPGNotifier constructs a PGNotifier.
func NewPGNotifier(dsn string, records RecordGetter) *PGNotifier {
	return &PGNotifier{dsn: dsn, records: records}
}

// Subscribe opens a connection, LISTENs and starts forwarding events of roomID.
// The subscription ends when ctx is cancelled, Close is called or the
// connection fails.
func (n *PGNotifier) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	conn, err := pgx.Connect(ctx, n.dsn)
	if err != nil {
		return nil, fmt.Errorf("listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{db.NotifyChannel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &pgSubscription{
		events: make(chan models.ChangeEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(subCtx, conn, roomID, n.records)
	return s, nil
}

type pgSubscription struct {
	events chan models.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *pgSubscription) Events() <-chan models.ChangeEvent { return s.events }

func (s *pgSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pgSubscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *pgSubscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *pgSubscription) run(ctx context.Context, conn *pgx.Conn, roomID string, records RecordGetter) {
	defer close(s.done)
	defer close(s.events)
	defer conn.Close(context.Background())

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(err)
			}
			return
		}

		ev, ok := decodeChange(ctx, notification.Payload, roomID, records)
		if !ok {
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// decodeChange turns a NOTIFY payload into an event for roomID. Inserts and
// updates are re-read since the payload only carries ids; ok is false for
// other rooms, bad payloads and rows already gone.
func decodeChange(ctx context.Context, payload, roomID string, records RecordGetter) (models.ChangeEvent, bool) {
	var ev models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("realtime: bad payload err=%v", err)
		return models.ChangeEvent{}, false
	}
	if ev.RoomID != roomID || ev.MessageID == "" {
		return models.ChangeEvent{}, false
	}
	ev.Record = nil
	if ev.Op == models.OpDelete {
		return ev, true
	}

	rec, err := records.GetMessage(ctx, ev.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		// deleted before we got to it; the delete event follows
		return models.ChangeEvent{}, false
	}
	if err != nil {
		log.Printf("realtime: load record id=%s err=%v", ev.MessageID, err)
		return models.ChangeEvent{}, false
	}
	ev.Record = &rec
	return ev, true
}
