package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
)

type emptyRooms struct{}

func (emptyRooms) ListRoomsForUser(context.Context, string) ([]models.Room, error) { return nil, nil }
func (emptyRooms) GetRoom(context.Context, string, string) (models.Room, error) {
	return models.Room{}, repositories.ErrRoomNotFound
}
func (emptyRooms) FindPrivateRoom(context.Context, string, string) (string, error) {
	return "", repositories.ErrRoomNotFound
}
func (emptyRooms) CreatePrivateRoom(context.Context, string, string) (string, error) {
	return "", repositories.ErrRoomNotFound
}
func (emptyRooms) IsParticipant(context.Context, string, string) (bool, error) { return false, nil }

func newTestSessions(t *testing.T) (*Sessions, *mocks.ProfileRepositoryMock, *int) {
	t.Helper()
	profiles := new(mocks.ProfileRepositoryMock)
	profiles.On("Touch", mock.Anything, mock.Anything).Return(nil)
	profiles.On("SetOffline", mock.Anything, mock.Anything).Return(nil)

	var mu sync.Mutex
	created := 0
	s := NewSessions(testContext(t), func(userID string) *chatsync.Engine {
		mu.Lock()
		created++
		mu.Unlock()
		return chatsync.New(userID, chatsync.Deps{Rooms: emptyRooms{}, Profiles: profiles}, chatsync.DefaultConfig(), nil)
	})
	return s, profiles, &created
}

func TestSessionsReuseEnginePerUser(t *testing.T) {
	s, _, created := newTestSessions(t)
	defer s.CloseAll()

	a := s.Session("alice")
	assert.Same(t, a, s.Session("alice"))
	assert.NotSame(t, a, s.Session("bob"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, *created)
}

func TestSessionsReleaseMarksOffline(t *testing.T) {
	s, profiles, _ := newTestSessions(t)
	defer s.CloseAll()

	feed := s.Watch("alice")
	s.Release("alice")

	_, open := <-feed.Updates()
	for open {
		_, open = <-feed.Updates()
	}
	assert.Zero(t, s.Len())
	profiles.AssertCalled(t, "SetOffline", mock.Anything, "alice")
}

func TestSessionsClosedRefuseNewEngines(t *testing.T) {
	s, _, _ := newTestSessions(t)
	s.Session("alice")
	s.CloseAll()

	_, open := <-s.Watch("bob").Updates()
	assert.False(t, open)
	assert.Zero(t, s.Len())

	err := s.Session("bob").SendTyping(testContext(t))
	require.ErrorIs(t, err, chatsync.ErrNotInRoom)
}

func TestSessionsReleaseIdleSkipsWatchedAndRecent(t *testing.T) {
	s, profiles, _ := newTestSessions(t)
	defer s.CloseAll()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.Session("alice").Rooms()
	feed := s.Watch("bob")
	defer feed.Close()

	clock = clock.Add(time.Minute)
	s.Session("carol")

	clock = clock.Add(30 * time.Second)
	assert.Equal(t, 1, s.ReleaseIdle(time.Minute))
	assert.Equal(t, 2, s.Len())
	profiles.AssertCalled(t, "SetOffline", mock.Anything, "alice")
	profiles.AssertNotCalled(t, "SetOffline", mock.Anything, "bob")
	profiles.AssertNotCalled(t, "SetOffline", mock.Anything, "carol")

	// bob stays while his feed is attached
	clock = clock.Add(time.Hour)
	assert.Equal(t, 1, s.ReleaseIdle(time.Minute))
	assert.Equal(t, 1, s.Len())
	profiles.AssertNotCalled(t, "SetOffline", mock.Anything, "bob")

	feed.Close()
	assert.Equal(t, 1, s.ReleaseIdle(time.Minute))
	assert.Zero(t, s.Len())
	profiles.AssertCalled(t, "SetOffline", mock.Anything, "bob")
}

func TestSessionsUseResetsIdleClock(t *testing.T) {
	s, _, created := newTestSessions(t)
	defer s.CloseAll()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.Session("alice")
	clock = clock.Add(50 * time.Second)
	s.Session("alice")
	clock = clock.Add(50 * time.Second)

	assert.Zero(t, s.ReleaseIdle(time.Minute))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, *created)
}

func TestSessionsReapReleasesRestOnlyEngines(t *testing.T) {
	offline := make(chan string, 1)
	profiles := new(mocks.ProfileRepositoryMock)
	profiles.On("Touch", mock.Anything, mock.Anything).Return(nil)
	profiles.On("SetOffline", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		offline <- args.String(1)
	})
	s := NewSessions(testContext(t), func(userID string) *chatsync.Engine {
		return chatsync.New(userID, chatsync.Deps{Rooms: emptyRooms{}, Profiles: profiles}, chatsync.DefaultConfig(), nil)
	})
	defer s.CloseAll()

	ctx, cancel := context.WithCancel(testContext(t))
	defer cancel()
	go s.Reap(ctx, 10*time.Millisecond, 30*time.Millisecond)

	s.Session("alice").Rooms()
	select {
	case userID := <-offline:
		assert.Equal(t, "alice", userID)
	case <-time.After(time.Second):
		t.Fatal("idle engine was not released")
	}
	assert.Zero(t, s.Len())
}
