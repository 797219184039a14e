package chatsync

import (
	"sync"

	"chat-sync/internal/models"
)

// View is the read-only state handed to the presentation layer.
type View struct {
	UserID   string           `json:"user_id"`
	RoomID   string           `json:"room_id,omitempty"`
	Messages []models.Message `json:"messages"`
	Rooms    []models.Room    `json:"rooms"`
	Typing   []string         `json:"typing,omitempty"`
	Degraded bool             `json:"degraded"`
}

// Feed delivers the latest View. The channel holds one value; a new view
// replaces an unread one so a slow reader never blocks the engine.
type Feed struct {
	ch     chan View
	once   sync.Once
	detach func(*Feed)

	// closed is guarded by the owning engine's mutex.
	closed bool
}

func newFeed(detach func(*Feed)) *Feed {
	return &Feed{ch: make(chan View, 1), detach: detach}
}

// Updates is closed when the feed is released.
func (f *Feed) Updates() <-chan View { return f.ch }

// Close releases the feed. Safe to call more than once.
func (f *Feed) Close() {
	if f != nil && f.detach != nil {
		f.detach(f)
	}
}

func (f *Feed) push(v View) {
	if f.closed {
		return
	}
	select {
	case <-f.ch:
	default:
	}
	select {
	case f.ch <- v:
	default:
	}
}

func (f *Feed) shut() {
	f.once.Do(func() {
		f.closed = true
		close(f.ch)
	})
}
