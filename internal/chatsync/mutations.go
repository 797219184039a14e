package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/telemetry"
)

func (e *Engine) startSpan(ctx context.Context, name, roomID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", e.userID),
		attribute.String("room.id", roomID),
	))
}

// writeFailed records a rolled back write and wraps its cause.
func writeFailed(span trace.Span, op string, err error) error {
	observability.IncWriteFailure(op)
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return fmt.Errorf("%w: %s: %w", ErrRemoteWriteFailed, op, err)
}

// SendMessage shows the message immediately and writes it. The optimistic
// entry is replaced by the stored record, or removed if the write fails.
func (e *Engine) SendMessage(ctx context.Context, content string, kind models.MessageKind) (models.Message, error) {
	e.mu.Lock()
	s := e.active
	if s == nil {
		e.mu.Unlock()
		return models.Message{}, ErrNotInRoom
	}
	if kind == "" {
		kind = models.KindText
	}
	if strings.TrimSpace(content) == "" || !kind.Valid() {
		e.mu.Unlock()
		return models.Message{}, ErrInvalidMessage
	}
	id := uuid.NewString()
	msg := models.Message{
		ID:        id,
		ClientID:  id,
		RoomID:    s.roomID,
		SenderID:  e.userID,
		Content:   content,
		Kind:      kind,
		Status:    models.StatusSent,
		CreatedAt: e.now().UTC().Truncate(time.Microsecond),
	}
	s.store.insertLocal(msg)
	prev, bumped := e.bumpRoomLocked(msg)
	e.publishLocked(s)
	e.mu.Unlock()

	ctx, span := e.startSpan(ctx, "chatsync.SendMessage", s.roomID)
	defer span.End()
	span.SetAttributes(attribute.String("message.id", id))

	stored, err := e.deps.Messages.InsertMessage(ctx, msg)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		s.store.removePending(id)
		if bumped {
			e.restoreRoomLocked(prev, msg.CreatedAt)
		}
		e.publishLocked(s)
		return models.Message{}, writeFailed(span, "send", err)
	}

	// an echo under a server-assigned id may already have replaced the entry
	if _, ok := s.store.get(id); ok || stored.ID != id {
		if e.mergeLocked(s, stored, false) != mergeIgnored {
			observability.AddMerged(sourceLocal, 1)
		}
		e.publishLocked(s)
	}
	return stored, nil
}

// DeleteMessage removes the message locally and on the server. A failed
// delete restores the message from a fresh read of that record.
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	e.mu.Lock()
	s := e.active
	if s == nil {
		e.mu.Unlock()
		return ErrNotInRoom
	}
	ent, ok := s.store.get(messageID)
	if !ok || ent.msg.Pending {
		e.mu.Unlock()
		return ErrMessageNotFound
	}
	held := ent.msg.Clone()
	s.store.remove(messageID)
	e.publishLocked(s)
	e.mu.Unlock()

	ctx, span := e.startSpan(ctx, "chatsync.DeleteMessage", s.roomID)
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID))

	err := e.deps.Messages.DeleteMessage(ctx, s.roomID, messageID)
	if err == nil || errors.Is(err, ErrMessageNotFound) {
		e.deps.Audit.EmitAction(ctx, telemetry.ActionMessageDeleted, telemetry.RequestIDFromContext(ctx), e.userID, s.roomID, messageID)
		return nil
	}

	restored, ferr := e.deps.Messages.GetMessage(ctx, messageID)

	e.mu.Lock()
	defer e.mu.Unlock()
	s.store.revive(messageID)
	switch {
	case ferr == nil:
		s.store.merge(restored, false)
	case errors.Is(ferr, ErrMessageNotFound):
		// gone on the server after all
	default:
		s.store.merge(held, false)
	}
	e.publishLocked(s)
	return writeFailed(span, "delete", err)
}

// ReactToMessage toggles the caller in emoji's reactor set. While the write
// is in flight, merges keep the local reaction map.
func (e *Engine) ReactToMessage(ctx context.Context, messageID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ErrInvalidMessage
	}

	e.mu.Lock()
	s := e.active
	if s == nil {
		e.mu.Unlock()
		return ErrNotInRoom
	}
	ent, ok := s.store.get(messageID)
	if !ok || ent.msg.Pending {
		e.mu.Unlock()
		return ErrMessageNotFound
	}
	prev := ent.msg.Reactions.Clone()
	next := prev.Toggle(emoji, e.userID)
	ent.msg.Reactions = next.Clone()
	ent.holds++
	e.publishLocked(s)
	e.mu.Unlock()

	ctx, span := e.startSpan(ctx, "chatsync.ReactToMessage", s.roomID)
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID), attribute.String("reaction.emoji", emoji))

	err := e.deps.Messages.UpdateReactions(ctx, messageID, next)

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := s.store.get(messageID); ok {
		if cur.holds > 0 {
			cur.holds--
		}
		if err != nil {
			cur.msg.Reactions = prev
		}
	}
	if err != nil {
		e.publishLocked(s)
		return writeFailed(span, "react", err)
	}
	return nil
}

// MarkRoomRead marks every unread message from others as read. It does
// nothing when there is nothing to mark.
func (e *Engine) MarkRoomRead(ctx context.Context) error {
	e.mu.Lock()
	s := e.active
	if s == nil {
		e.mu.Unlock()
		return ErrNotInRoom
	}
	type marked struct {
		status models.Status
		seen   uint64
	}
	prev := make(map[string]marked)
	for id, ent := range s.store.entries {
		if ent.msg.Pending || ent.msg.SenderID == e.userID || !ent.msg.Status.Unread() {
			continue
		}
		prev[id] = marked{status: ent.msg.Status, seen: ent.seen}
		ent.msg.Status = models.StatusRead
	}
	if len(prev) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.publishLocked(s)
	e.mu.Unlock()

	ctx, span := e.startSpan(ctx, "chatsync.MarkRoomRead", s.roomID)
	defer span.End()
	span.SetAttributes(attribute.Int("messages.count", len(prev)))

	_, err := e.deps.Messages.MarkRead(ctx, s.roomID, e.userID)
	if err == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// entries merged since the optimistic change carry server state
	for id, m := range prev {
		if ent, ok := s.store.get(id); ok && ent.seen == m.seen && ent.msg.Status == models.StatusRead {
			ent.msg.Status = m.status
		}
	}
	e.publishLocked(s)
	return writeFailed(span, "mark_read", err)
}

// SendTyping announces that the caller is typing. Calls within the typing
// interval are dropped, and broadcast errors are only logged.
func (e *Engine) SendTyping(ctx context.Context) error {
	e.mu.Lock()
	s := e.active
	e.mu.Unlock()
	if s == nil {
		return ErrNotInRoom
	}
	if e.deps.Typing == nil || !e.typingLimiter.Allow() {
		return nil
	}

	ev := models.TypingEvent{RoomID: s.roomID, UserID: e.userID}
	if err := e.deps.Typing.PublishTyping(ctx, ev); err != nil {
		e.log.Printf("typing broadcast failed room_id=%s err=%v", s.roomID, err)
	}
	return nil
}
