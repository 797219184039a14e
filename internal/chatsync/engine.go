package chatsync

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
)

var tracer = otel.Tracer("chat-sync/chatsync")

// Notifier opens a change subscription for one room.
type Notifier interface {
	Subscribe(ctx context.Context, roomID string) (realtime.Subscription, error)
}

// TypingChannel is the ephemeral per-room broadcast.
type TypingChannel interface {
	PublishTyping(ctx context.Context, ev models.TypingEvent) error
	SubscribeTyping(ctx context.Context, roomID string) (rabbitmq.TypingSubscription, error)
}

// Deps are the remote collaborators of an Engine. Typing and Audit may be nil.
type Deps struct {
	Messages repositories.MessageRepository
	Rooms    repositories.RoomRepository
	Profiles repositories.ProfileRepository
	Notifier Notifier
	Typing   TypingChannel
	Audit    *telemetry.AuditEmitter
}

type Config struct {
	PollInterval        time.Duration
	RoomPollInterval    time.Duration
	ResubscribeInterval time.Duration
	TypingInterval      time.Duration
	TypingTTL           time.Duration
	CoachWindow         int
	SearchLimit         int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:        time.Second,
		RoomPollInterval:    10 * time.Second,
		ResubscribeInterval: 5 * time.Second,
		TypingInterval:      2 * time.Second,
		TypingTTL:           3 * time.Second,
		CoachWindow:         10,
		SearchLimit:         10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RoomPollInterval <= 0 {
		c.RoomPollInterval = d.RoomPollInterval
	}
	if c.ResubscribeInterval <= 0 {
		c.ResubscribeInterval = d.ResubscribeInterval
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = d.TypingInterval
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = d.TypingTTL
	}
	if c.CoachWindow <= 0 {
		c.CoachWindow = d.CoachWindow
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = d.SearchLimit
	}
	return c
}

// Engine is one user's sync session: the room list plus at most one active
// room whose message list is kept consistent with the server.
type Engine struct {
	userID string
	deps   Deps
	cfg    Config
	log    *log.Logger
	now    func() time.Time

	typingLimiter *rate.Limiter
	creates       singleflight.Group

	// switchMu serializes room switches so teardown of the previous session
	// completes before the next one starts.
	switchMu sync.Mutex

	mu       sync.Mutex
	base     context.Context
	stop     context.CancelFunc
	loopDone chan struct{}
	rooms    []models.Room
	active   *roomSession
	watchers []*Feed
	started  bool
	closed   bool
}

// New builds an engine for userID. A nil logger writes to stderr.
func New(userID string, deps Deps, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[chatsync] ", log.LstdFlags)
	}
	cfg = cfg.withDefaults()
	return &Engine{
		userID:        userID,
		deps:          deps,
		cfg:           cfg,
		log:           logger,
		now:           time.Now,
		typingLimiter: rate.NewLimiter(rate.Every(cfg.TypingInterval), 1),
		base:          context.Background(),
	}
}

func (e *Engine) UserID() string { return e.userID }

// Start runs the presence heartbeat until ctx is done or Close is called.
// Room sessions opened afterwards are bound to ctx as well.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, e.stop = context.WithCancel(ctx)
	e.base = ctx
	e.loopDone = make(chan struct{})
	done := e.loopDone
	e.mu.Unlock()

	go e.heartbeat(ctx, done)
}

func (e *Engine) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.RoomPollInterval)
	defer ticker.Stop()
	for {
		e.beat(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) beat(ctx context.Context) {
	if err := e.deps.Profiles.Touch(ctx, e.userID); err != nil && ctx.Err() == nil {
		e.log.Printf("presence touch failed user_id=%s err=%v", e.userID, err)
	}
	if err := e.RefreshRooms(ctx); err != nil && ctx.Err() == nil {
		e.log.Printf("room refresh failed user_id=%s err=%v", e.userID, err)
	}
}

// Close stops the heartbeat, tears down the active room, releases all feeds
// and marks the user offline.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	stop, done := e.stop, e.loopDone
	e.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	e.CloseRoom()

	e.mu.Lock()
	for _, f := range e.watchers {
		f.shut()
	}
	e.watchers = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.deps.Profiles.SetOffline(ctx, e.userID)
}

// Watch returns a feed that follows the engine across room switches. It
// starts with the current view.
func (e *Engine) Watch() *Feed {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := newFeed(e.unwatch)
	if e.closed {
		f.shut()
		return f
	}
	e.watchers = append(e.watchers, f)
	f.push(e.viewLocked())
	return f
}

// Watched reports whether any feed is still attached.
func (e *Engine) Watched() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watchers) > 0
}

func (e *Engine) unwatch(f *Feed) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, w := range e.watchers {
		if w == f {
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			break
		}
	}
	if e.active != nil {
		e.active.detachFeed(f)
	}
	f.shut()
}

// View returns the current state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Messages returns the active room's list.
func (e *Engine) Messages() ([]models.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil, ErrNotInRoom
	}
	return e.active.store.snapshot(), nil
}

// ActiveRoom returns the room entry of the open session.
func (e *Engine) ActiveRoom() (models.Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return models.Room{}, ErrNotInRoom
	}
	for _, r := range e.rooms {
		if r.ID == e.active.roomID {
			return r, nil
		}
	}
	return models.Room{ID: e.active.roomID}, nil
}

// CoachHistory returns the trailing window of the active room tagged by
// speaker, oldest first.
func (e *Engine) CoachHistory() ([]models.CoachTurn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil, ErrNotInRoom
	}

	msgs := e.active.store.last(e.cfg.CoachWindow)
	turns := make([]models.CoachTurn, 0, len(msgs))
	for _, m := range msgs {
		role := models.RolePartner
		if m.SenderID == e.userID {
			role = models.RoleUser
		}
		turns = append(turns, models.CoachTurn{Role: role, Content: m.Preview()})
	}
	return turns, nil
}

func (e *Engine) viewLocked() View {
	v := View{
		UserID:   e.userID,
		Rooms:    cloneRooms(e.rooms),
		Messages: []models.Message{},
	}
	if s := e.active; s != nil {
		v.RoomID = s.roomID
		v.Messages = s.store.snapshot()
		v.Typing = s.typingUsers(e.now(), e.cfg.TypingTTL)
		v.Degraded = s.degraded
	}
	return v
}

// publishLocked pushes the current view to every feed, but only on behalf of
// the active session; a session that has been switched away is silent.
func (e *Engine) publishLocked(s *roomSession) {
	if s != e.active {
		return
	}
	v := e.viewLocked()
	for _, f := range e.watchers {
		f.push(v)
	}
	if s != nil {
		for _, f := range s.feeds {
			f.push(v)
		}
	}
}

func cloneRooms(rooms []models.Room) []models.Room {
	out := make([]models.Room, len(rooms))
	copy(out, rooms)
	return out
}

func sortRooms(rooms []models.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].LastActivity.After(rooms[j].LastActivity)
	})
}
