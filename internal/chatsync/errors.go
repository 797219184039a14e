package chatsync

import (
	"errors"

	"chat-sync/internal/repositories"
)

var (
	ErrNotInRoom       = errors.New("not in room")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMessageNotFound = repositories.ErrMessageNotFound
	ErrRoomNotFound    = repositories.ErrRoomNotFound
	// ErrRemoteWriteFailed wraps the cause of a rejected write after the
	// optimistic change has been rolled back.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	ErrRemoteFetchFailed = errors.New("remote fetch failed")
	ErrSubscriptionLost  = errors.New("change subscription lost")
	ErrEngineClosed      = errors.New("engine closed")
	ErrInvalidUser       = errors.New("invalid user")
)
