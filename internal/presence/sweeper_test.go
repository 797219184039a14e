package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
)

func TestSweepUsesTimeoutCutoff(t *testing.T) {
	repo := new(mocks.ProfileRepositoryMock)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSweeper(repo, 2*time.Minute)
	s.now = func() time.Time { return now }

	repo.On("MarkStaleOffline", mock.Anything, now.Add(-2*time.Minute)).Return(int64(3), nil).Once()

	n, err := s.Sweep(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	repo.AssertExpectations(t)
}

func TestSweepError(t *testing.T) {
	repo := new(mocks.ProfileRepositoryMock)
	s := NewSweeper(repo, time.Minute)

	repo.On("MarkStaleOffline", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down")).Once()

	_, err := s.Sweep(testContext(t))
	require.Error(t, err)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(new(mocks.ProfileRepositoryMock), time.Minute)

	require.Error(t, s.Start("not a schedule"))
	s.Stop()
}

func TestStartRunsSweep(t *testing.T) {
	repo := new(mocks.ProfileRepositoryMock)
	s := NewSweeper(repo, time.Minute)
	swept := make(chan struct{}, 1)
	repo.On("MarkStaleOffline", mock.Anything, mock.Anything).Return(int64(0), nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	require.NoError(t, s.Start("@every 1s"))
	defer s.Stop()

	select {
	case <-swept:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep did not run")
	}
}
