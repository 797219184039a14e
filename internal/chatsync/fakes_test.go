package chatsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
	"chat-sync/internal/testutil"
)

var errBackend = errors.New("backend unavailable")

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id, sender string, offset int, status models.Status) models.Message {
	return models.Message{
		ID:        id,
		ClientID:  id,
		RoomID:    "room-1",
		SenderID:  sender,
		Content:   "message " + id,
		Kind:      models.KindText,
		Status:    status,
		CreatedAt: t0.Add(time.Duration(offset) * time.Second),
	}
}

// fakeBackend is an in-memory message, room and profile store.
type fakeBackend struct {
	mu       sync.Mutex
	messages map[string]models.Message
	rooms    map[string]models.Room
	members  map[string]map[string]bool
	profiles []models.Profile

	listErr    error
	insertErr  error
	deleteErr  error
	reactErr   error
	readErr    error
	deliverErr error

	// gates block the matching write until closed
	insertGate chan struct{}
	reactGate  chan struct{}
	readGate   chan struct{}

	// createDuplicate simulates another writer winning the pair race.
	createDuplicate bool
	createDelay     time.Duration

	calls map[string]int
}

func newFakeBackend(msgs ...models.Message) *fakeBackend {
	b := &fakeBackend{
		messages: make(map[string]models.Message),
		rooms:    make(map[string]models.Room),
		members:  make(map[string]map[string]bool),
		calls:    make(map[string]int),
	}
	b.addRoom(models.Room{ID: "room-1", Kind: models.RoomPrivate, Name: "bob", CounterpartID: "bob", LastActivity: t0}, "alice", "bob")
	b.addRoom(models.Room{ID: "room-2", Kind: models.RoomPrivate, Name: "carol", CounterpartID: "carol", LastActivity: t0}, "alice", "carol")
	for _, m := range msgs {
		b.messages[m.ID] = m
	}
	return b
}

func (b *fakeBackend) addRoom(r models.Room, users ...string) {
	b.rooms[r.ID] = r
	b.members[r.ID] = make(map[string]bool)
	for _, u := range users {
		b.members[r.ID][u] = true
	}
}

func (b *fakeBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeBackend) put(m models.Message) {
	b.mu.Lock()
	b.messages[m.ID] = m
	b.mu.Unlock()
}

func (b *fakeBackend) drop(id string) {
	b.mu.Lock()
	delete(b.messages, id)
	b.mu.Unlock()
}

func (b *fakeBackend) setErr(target *error, err error) {
	b.mu.Lock()
	*target = err
	b.mu.Unlock()
}

func (b *fakeBackend) ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["list"]++
	if b.listErr != nil {
		return nil, b.listErr
	}
	var out []models.Message
	for _, m := range b.messages {
		if m.RoomID == roomID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (b *fakeBackend) GetMessage(ctx context.Context, id string) (models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.messages[id]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (b *fakeBackend) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	b.mu.Lock()
	gate := b.insertGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["insert"]++
	if b.insertErr != nil {
		return models.Message{}, b.insertErr
	}
	if existing, ok := b.messages[msg.ID]; ok {
		return existing.Clone(), nil
	}
	msg.Pending = false
	b.messages[msg.ID] = msg
	return msg.Clone(), nil
}

func (b *fakeBackend) DeleteMessage(ctx context.Context, roomID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["delete"]++
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if _, ok := b.messages[id]; !ok {
		return repositories.ErrMessageNotFound
	}
	delete(b.messages, id)
	return nil
}

func (b *fakeBackend) UpdateReactions(ctx context.Context, id string, reactions models.Reactions) error {
	b.mu.Lock()
	gate := b.reactGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["react"]++
	if b.reactErr != nil {
		return b.reactErr
	}
	m, ok := b.messages[id]
	if !ok {
		return repositories.ErrMessageNotFound
	}
	m.Reactions = reactions.Clone()
	b.messages[id] = m
	return nil
}

func (b *fakeBackend) setStatus(roomID, reader string, from []models.Status, to models.Status) int64 {
	var n int64
	for id, m := range b.messages {
		if m.RoomID != roomID || m.SenderID == reader {
			continue
		}
		for _, st := range from {
			if m.Status == st {
				m.Status = to
				b.messages[id] = m
				n++
				break
			}
		}
	}
	return n
}

func (b *fakeBackend) MarkRead(ctx context.Context, roomID, readerID string) (int64, error) {
	b.mu.Lock()
	gate := b.readGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["read"]++
	if b.readErr != nil {
		return 0, b.readErr
	}
	return b.setStatus(roomID, readerID, []models.Status{models.StatusSent, models.StatusDelivered}, models.StatusRead), nil
}

func (b *fakeBackend) MarkDelivered(ctx context.Context, roomID, recipientID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["deliver"]++
	if b.deliverErr != nil {
		return 0, b.deliverErr
	}
	return b.setStatus(roomID, recipientID, []models.Status{models.StatusSent}, models.StatusDelivered), nil
}

// rooms

type fakeRooms struct{ *fakeBackend }

func (r fakeRooms) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Room
	for id, room := range r.rooms {
		if r.members[id][userID] {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeRooms) GetRoom(ctx context.Context, roomID, viewerID string) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.Room{}, repositories.ErrRoomNotFound
	}
	return room, nil
}

func (r fakeRooms) FindPrivateRoom(ctx context.Context, userID, otherID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, room := range r.rooms {
		if room.Kind == models.RoomPrivate && r.members[id][userID] && r.members[id][otherID] {
			return id, nil
		}
	}
	return "", repositories.ErrRoomNotFound
}

func (r fakeRooms) CreatePrivateRoom(ctx context.Context, userID, otherID string) (string, error) {
	time.Sleep(r.createDelay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["create_room"]++
	id := "room-" + models.PairKey(userID, otherID)
	r.addRoom(models.Room{ID: id, Kind: models.RoomPrivate, Name: otherID, CounterpartID: otherID, LastActivity: t0}, userID, otherID)
	if r.createDuplicate {
		return "", repositories.ErrDuplicateRoomCreation
	}
	return id, nil
}

func (r fakeRooms) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[roomID][userID], nil
}

// profiles

type fakeProfiles struct{ *fakeBackend }

func (p fakeProfiles) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]models.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["search"]++
	var out []models.Profile
	for _, prof := range p.profiles {
		if prof.ID != excludeID && len(out) < limit {
			out = append(out, prof)
		}
	}
	return out, nil
}

func (p fakeProfiles) Touch(ctx context.Context, userID string) error {
	p.mu.Lock()
	p.calls["touch"]++
	p.mu.Unlock()
	return nil
}

func (p fakeProfiles) SetOffline(ctx context.Context, userID string) error {
	p.mu.Lock()
	p.calls["offline"]++
	p.mu.Unlock()
	return nil
}

func (p fakeProfiles) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// notifications

type fakeSub struct {
	roomID string
	events chan models.ChangeEvent
	once   sync.Once

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *fakeSub) Events() <-chan models.ChangeEvent { return s.events }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) emit(ev models.ChangeEvent) {
	s.events <- ev
}

// fail ends the subscription as a dropped connection would.
func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
}

type fakeNotifier struct {
	mu       sync.Mutex
	subs     []*fakeSub
	failures int
	attempts int
}

func (n *fakeNotifier) Subscribe(ctx context.Context, roomID string) (realtime.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.failures > 0 {
		n.failures--
		return nil, errBackend
	}
	sub := &fakeSub{roomID: roomID, events: make(chan models.ChangeEvent)}
	n.subs = append(n.subs, sub)
	return sub, nil
}

func (n *fakeNotifier) latest() *fakeSub {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.subs) == 0 {
		return nil
	}
	return n.subs[len(n.subs)-1]
}

// typing

type fakeTypingSub struct {
	events chan models.TypingEvent
	once   sync.Once
}

func (s *fakeTypingSub) Events() <-chan models.TypingEvent { return s.events }

func (s *fakeTypingSub) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type fakeTyping struct {
	mu        sync.Mutex
	published []models.TypingEvent
	subs      []*fakeTypingSub
}

func (f *fakeTyping) PublishTyping(ctx context.Context, ev models.TypingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
	return nil
}

func (f *fakeTyping) SubscribeTyping(ctx context.Context, roomID string) (rabbitmq.TypingSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeTypingSub{events: make(chan models.TypingEvent, 4)}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeTyping) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTyping) latest() *fakeTypingSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

type harness struct {
	engine   *Engine
	backend  *fakeBackend
	notifier *fakeNotifier
	typing   *fakeTyping
}

// quietConfig keeps the poll out of the way unless a test wants it.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	cfg.RoomPollInterval = time.Hour
	cfg.ResubscribeInterval = 10 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, cfg Config, msgs ...models.Message) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(msgs...),
		notifier: &fakeNotifier{},
		typing:   &fakeTyping{},
	}
	h.engine = New("alice", Deps{
		Messages: h.backend,
		Rooms:    fakeRooms{h.backend},
		Profiles: fakeProfiles{h.backend},
		Notifier: h.notifier,
		Typing:   h.typing,
	}, cfg, testutil.TestLogger(t))
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

// open enters room-1 and waits until the session is subscribed.
func (h *harness) open(t *testing.T) *Feed {
	t.Helper()
	feed, err := h.engine.OpenRoom(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	h.waitSubscribed(t, 1)
	return feed
}

func (h *harness) waitSubscribed(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.notifier.mu.Lock()
		got := len(h.notifier.subs)
		h.notifier.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session did not subscribe %d times", n)
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func (h *harness) messageIDs() []string {
	msgs, _ := h.engine.Messages()
	return ids(msgs)
}

func (h *harness) message(id string) (models.Message, bool) {
	msgs, _ := h.engine.Messages()
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}
