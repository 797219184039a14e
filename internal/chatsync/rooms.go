package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
)

// Rooms returns the room list, most recently active first.
func (e *Engine) Rooms() []models.Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRooms(e.rooms)
}

// RefreshRooms reloads the room list with presence and previews.
func (e *Engine) RefreshRooms(ctx context.Context) error {
	rooms, err := e.deps.Rooms.ListRoomsForUser(ctx, e.userID)
	if err != nil {
		return fmt.Errorf("%w: rooms: %w", ErrRemoteFetchFailed, err)
	}
	rooms = dedupeRooms(rooms)

	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.active; s != nil {
		// the active list may be ahead of the server's preview
		if msgs := s.store.last(1); len(msgs) == 1 {
			for i := range rooms {
				if rooms[i].ID == s.roomID && !msgs[0].CreatedAt.Before(rooms[i].LastActivity) {
					rooms[i].LastActivity = msgs[0].CreatedAt
					rooms[i].LastMessage = msgs[0].Preview()
				}
			}
		}
	}
	sortRooms(rooms)
	e.rooms = rooms
	e.publishLocked(e.active)
	return nil
}

// dedupeRooms keeps one private room per counterpart and drops private rooms
// that have none.
func dedupeRooms(rooms []models.Room) []models.Room {
	seen := make(map[string]struct{}, len(rooms))
	out := rooms[:0]
	for _, r := range rooms {
		if r.Kind == models.RoomPrivate {
			if r.CounterpartID == "" {
				continue
			}
			if _, dup := seen[r.CounterpartID]; dup {
				continue
			}
			seen[r.CounterpartID] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// SearchUsers finds other users by username substring.
func (e *Engine) SearchUsers(ctx context.Context, query string) ([]models.Profile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Profile{}, nil
	}
	profiles, err := e.deps.Profiles.SearchProfiles(ctx, query, e.userID, e.cfg.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrRemoteFetchFailed, err)
	}
	return profiles, nil
}

// CreatePrivateRoom returns the private room shared with otherID, creating it
// when none exists. Concurrent calls for the same user share one attempt.
func (e *Engine) CreatePrivateRoom(ctx context.Context, otherID string) (string, error) {
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return "", ErrInvalidUser
	}
	if otherID == e.userID {
		return "", repositories.ErrSelfRoom
	}

	e.mu.Lock()
	for _, r := range e.rooms {
		if r.Kind == models.RoomPrivate && r.CounterpartID == otherID {
			e.mu.Unlock()
			return r.ID, nil
		}
	}
	e.mu.Unlock()

	v, err, _ := e.creates.Do(otherID, func() (any, error) {
		return e.createPrivateRoom(ctx, otherID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Engine) createPrivateRoom(ctx context.Context, otherID string) (string, error) {
	roomID, err := e.deps.Rooms.FindPrivateRoom(ctx, e.userID, otherID)
	switch {
	case err == nil:
		e.loadRoom(ctx, roomID)
		return roomID, nil
	case !errors.Is(err, repositories.ErrRoomNotFound):
		return "", fmt.Errorf("%w: find room: %w", ErrRemoteFetchFailed, err)
	}

	roomID, err = e.deps.Rooms.CreatePrivateRoom(ctx, e.userID, otherID)
	if errors.Is(err, repositories.ErrDuplicateRoomCreation) {
		roomID, err = e.deps.Rooms.FindPrivateRoom(ctx, e.userID, otherID)
	} else if err == nil {
		e.deps.Audit.EmitAction(ctx, telemetry.ActionRoomCreated, telemetry.RequestIDFromContext(ctx), e.userID, roomID, "")
	}
	if err != nil {
		return "", fmt.Errorf("%w: create room: %w", ErrRemoteWriteFailed, err)
	}

	e.loadRoom(ctx, roomID)
	return roomID, nil
}

// loadRoom adds or refreshes one room list entry.
func (e *Engine) loadRoom(ctx context.Context, roomID string) {
	room, err := e.deps.Rooms.GetRoom(ctx, roomID, e.userID)
	if err != nil {
		e.log.Printf("load room failed room_id=%s err=%v", roomID, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	replaced := false
	for i := range e.rooms {
		if e.rooms[i].ID == roomID {
			e.rooms[i] = room
			replaced = true
			break
		}
	}
	if !replaced {
		e.rooms = append(e.rooms, room)
	}
	sortRooms(e.rooms)
	e.publishLocked(e.active)
}

// bumpRoomLocked moves msg's room to the top with msg as preview. It returns
// the previous entry so a failed send can undo it.
func (e *Engine) bumpRoomLocked(msg models.Message) (models.Room, bool) {
	for i := range e.rooms {
		r := e.rooms[i]
		if r.ID != msg.RoomID {
			continue
		}
		if msg.CreatedAt.Before(r.LastActivity) {
			return models.Room{}, false
		}
		e.rooms[i].LastActivity = msg.CreatedAt
		e.rooms[i].LastMessage = msg.Preview()
		sortRooms(e.rooms)
		return r, true
	}
	return models.Room{}, false
}

// restoreRoomLocked undoes bumpRoomLocked unless something newer arrived.
func (e *Engine) restoreRoomLocked(prev models.Room, bumpedAt time.Time) {
	for i := range e.rooms {
		if e.rooms[i].ID == prev.ID && e.rooms[i].LastActivity.Equal(bumpedAt) {
			e.rooms[i].LastActivity = prev.LastActivity
			e.rooms[i].LastMessage = prev.LastMessage
			sortRooms(e.rooms)
			return
		}
	}
}
