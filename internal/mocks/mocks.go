package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/coach"
	"chat-sync/internal/models"
)

type SyncSessionMock struct {
	mock.Mock
}

func (m *SyncSessionMock) Rooms() []models.Room {
	args := m.Called()
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms
}

func (m *SyncSessionMock) RefreshRooms(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *SyncSessionMock) CreatePrivateRoom(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *SyncSessionMock) SearchUsers(ctx context.Context, query string) ([]models.Profile, error) {
	args := m.Called(ctx, query)
	var users []models.Profile
	if val := args.Get(0); val != nil {
		users = val.([]models.Profile)
	}
	return users, args.Error(1)
}

func (m *SyncSessionMock) OpenRoom(ctx context.Context, roomID string) (*chatsync.Feed, error) {
	args := m.Called(ctx, roomID)
	var feed *chatsync.Feed
	if val := args.Get(0); val != nil {
		feed = val.(*chatsync.Feed)
	}
	return feed, args.Error(1)
}

func (m *SyncSessionMock) CloseRoom() {
	m.Called()
}

func (m *SyncSessionMock) MarkRoomRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *SyncSessionMock) SendTyping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *SyncSessionMock) SendMessage(ctx context.Context, content string, kind models.MessageKind) (models.Message, error) {
	args := m.Called(ctx, content, kind)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *SyncSessionMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *SyncSessionMock) ReactToMessage(ctx context.Context, messageID, emoji string) error {
	args := m.Called(ctx, messageID, emoji)
	return args.Error(0)
}

func (m *SyncSessionMock) ActiveRoom() (models.Room, error) {
	args := m.Called()
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *SyncSessionMock) CoachHistory() ([]models.CoachTurn, error) {
	args := m.Called()
	var turns []models.CoachTurn
	if val := args.Get(0); val != nil {
		turns = val.([]models.CoachTurn)
	}
	return turns, args.Error(1)
}

func (m *SyncSessionMock) View() chatsync.View {
	args := m.Called()
	var v chatsync.View
	if val := args.Get(0); val != nil {
		v = val.(chatsync.View)
	}
	return v
}

type AnalyzerMock struct {
	mock.Mock
}

func (m *AnalyzerMock) Analyze(ctx context.Context, req coach.Request) (coach.Insights, error) {
	args := m.Called(ctx, req)
	var out coach.Insights
	if val := args.Get(0); val != nil {
		out = val.(coach.Insights)
	}
	return out, args.Error(1)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) SearchProfiles(ctx context.Context, query string, excludeID string, limit int) ([]models.Profile, error) {
	args := m.Called(ctx, query, excludeID, limit)
	var list []models.Profile
	if val := args.Get(0); val != nil {
		list = val.([]models.Profile)
	}
	return list, args.Error(1)
}

func (m *ProfileRepositoryMock) Touch(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *ProfileRepositoryMock) SetOffline(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *ProfileRepositoryMock) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
