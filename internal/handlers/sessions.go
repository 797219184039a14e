package handlers

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/models"
)

// SyncSession is the per-user engine surface the HTTP layer drives.
type SyncSession interface {
	Rooms() []models.Room
	RefreshRooms(ctx context.Context) error
	CreatePrivateRoom(ctx context.Context, userID string) (string, error)
	SearchUsers(ctx context.Context, query string) ([]models.Profile, error)
	OpenRoom(ctx context.Context, roomID string) (*chatsync.Feed, error)
	CloseRoom()
	MarkRoomRead(ctx context.Context) error
	SendTyping(ctx context.Context) error
	SendMessage(ctx context.Context, content string, kind models.MessageKind) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	ReactToMessage(ctx context.Context, messageID, emoji string) error
	ActiveRoom() (models.Room, error)
	CoachHistory() ([]models.CoachTurn, error)
	View() chatsync.View
}

var _ SyncSession = (*chatsync.Engine)(nil)

type SessionProvider interface {
	Session(userID string) SyncSession
}

// SessionProviderFunc adapts a function to SessionProvider.
type SessionProviderFunc func(userID string) SyncSession

func (f SessionProviderFunc) Session(userID string) SyncSession { return f(userID) }

// Sessions keeps one engine per authenticated user, created on first use.
type Sessions struct {
	ctx     context.Context
	factory func(userID string) *chatsync.Engine

	now     func() time.Time

	mu      sync.Mutex
	engines map[string]*chatsync.Engine
	used    map[string]time.Time
	closed  bool
}

// NewSessions builds a registry. Engines are started with ctx.
func NewSessions(ctx context.Context, factory func(userID string) *chatsync.Engine) *Sessions {
	return &Sessions{
		ctx:     ctx,
		factory: factory,
		now:     time.Now,
		engines: make(map[string]*chatsync.Engine),
		used:    make(map[string]time.Time),
	}
}

func (s *Sessions) engine(userID string) *chatsync.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[userID]; ok {
		s.used[userID] = s.now()
		return e
	}
	e := s.factory(userID)
	if s.closed {
		// the engine is returned closed so every intent fails cleanly
		_ = e.Close()
		return e
	}
	e.Start(s.ctx)
	s.engines[userID] = e
	s.used[userID] = s.now()
	return e
}

func (s *Sessions) Session(userID string) SyncSession {
	return s.engine(userID)
}

// Watch returns a view feed for userID's engine.
func (s *Sessions) Watch(userID string) *chatsync.Feed {
	return s.engine(userID).Watch()
}

// Release closes userID's engine; the next request starts a fresh one.
func (s *Sessions) Release(userID string) {
	s.mu.Lock()
	e, ok := s.engines[userID]
	delete(s.engines, userID)
	delete(s.used, userID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := e.Close(); err != nil {
		log.Printf("session release failed user_id=%s err=%v", userID, err)
	}
}

// ReleaseIdle closes engines nobody has used for idle and that have no
// attached feeds. It returns how many were released.
func (s *Sessions) ReleaseIdle(idle time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-idle)
	idleEngines := make(map[string]*chatsync.Engine)
	for userID, e := range s.engines {
		if s.used[userID].After(cutoff) || e.Watched() {
			continue
		}
		idleEngines[userID] = e
		delete(s.engines, userID)
		delete(s.used, userID)
	}
	s.mu.Unlock()

	for userID, e := range idleEngines {
		if err := e.Close(); err != nil {
			log.Printf("idle session release failed user_id=%s err=%v", userID, err)
		}
	}
	return len(idleEngines)
}

// Reap runs ReleaseIdle every interval until ctx is done.
func (s *Sessions) Reap(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ReleaseIdle(idle); n > 0 {
				log.Printf("released %d idle sessions", n)
			}
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}

// CloseAll closes every engine and refuses new ones.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	s.closed = true
	engines := s.engines
	s.engines = make(map[string]*chatsync.Engine)
	s.used = make(map[string]time.Time)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for userID, e := range engines {
		wg.Add(1)
		go func(userID string, e *chatsync.Engine) {
			defer wg.Done()
			if err := e.Close(); err != nil {
				log.Printf("session close failed user_id=%s err=%v", userID, err)
			}
		}(userID, e)
	}
	wg.Wait()
}
