package chatsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/realtime"
)

const (
	sourceSnapshot = "snapshot"
	sourcePoll     = "poll"
	sourceNotify   = "notify"
	sourceLocal    = "local"
)

// roomSession is the state of the active room. Fields other than cancel and
// done are guarded by the engine mutex.
type roomSession struct {
	roomID string
	cancel context.CancelFunc
	done   chan struct{}

	store    *messageStore
	typing   map[string]time.Time
	feeds    []*Feed
	degraded bool
}

func newRoomSession(roomID string, cancel context.CancelFunc) *roomSession {
	return &roomSession{
		roomID: roomID,
		cancel: cancel,
		done:   make(chan struct{}),
		store:  newMessageStore(),
		typing: make(map[string]time.Time),
	}
}

func (s *roomSession) detachFeed(f *Feed) {
	for i, cur := range s.feeds {
		if cur == f {
			s.feeds = append(s.feeds[:i], s.feeds[i+1:]...)
			return
		}
	}
}

func (s *roomSession) typingUsers(now time.Time, ttl time.Duration) []string {
	var users []string
	for id, at := range s.typing {
		if now.Sub(at) < ttl {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

func (s *roomSession) expireTyping(now time.Time, ttl time.Duration) bool {
	expired := false
	for id, at := range s.typing {
		if now.Sub(at) >= ttl {
			delete(s.typing, id)
			expired = true
		}
	}
	return expired
}

// undelivered reports whether others' messages are still marked sent.
func (s *roomSession) undelivered(userID string) bool {
	for _, e := range s.store.entries {
		if !e.msg.Pending && e.msg.SenderID != userID && e.msg.Status == models.StatusSent {
			return true
		}
	}
	return false
}

// OpenRoom makes roomID the active room. The previous session is torn down
// and joined first. The returned feed is closed when the room is left.
func (e *Engine) OpenRoom(ctx context.Context, roomID string) (*Feed, error) {
	ok, err := e.deps.Rooms.IsParticipant(ctx, roomID, e.userID)
	if err != nil {
		return nil, fmt.Errorf("%w: participant check: %w", ErrRemoteFetchFailed, err)
	}
	if !ok {
		return nil, fmt.Errorf("open room %s: %w", roomID, ErrRoomNotFound)
	}

	e.switchMu.Lock()
	defer e.switchMu.Unlock()
	e.CloseRoom()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	sctx, cancel := context.WithCancel(e.base)
	s := newRoomSession(roomID, cancel)
	feed := newFeed(e.unwatch)
	s.feeds = append(s.feeds, feed)
	e.active = s
	e.publishLocked(s)

	go e.runSession(sctx, s)
	e.log.Printf("room opened user_id=%s room_id=%s", e.userID, roomID)
	return feed, nil
}

// CloseRoom cancels the active session and waits until it has released its
// subscription, ticker and feeds.
func (e *Engine) CloseRoom() {
	e.mu.Lock()
	s := e.active
	if s == nil {
		e.mu.Unlock()
		return
	}
	e.active = nil
	s.cancel()
	for _, f := range s.feeds {
		f.shut()
	}
	s.feeds = nil
	e.publishLocked(nil)
	e.mu.Unlock()

	<-s.done
	e.log.Printf("room closed user_id=%s room_id=%s", e.userID, s.roomID)
}

func (e *Engine) runSession(ctx context.Context, s *roomSession) {
	defer close(s.done)
	observability.IncSessions()
	defer observability.DecSessions()

	var sub realtime.Subscription
	var typingSub rabbitmq.TypingSubscription
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
		if typingSub != nil {
			_ = typingSub.Close()
		}
		e.mu.Lock()
		if s.degraded {
			s.degraded = false
			observability.SetDegraded(false)
		}
		e.mu.Unlock()
	}()

	e.refetch(ctx, s, sourceSnapshot)

	var events <-chan models.ChangeEvent
	var resubscribe <-chan time.Time
	if sub = e.subscribe(ctx, s); sub != nil {
		events = sub.Events()
	} else {
		resubscribe = time.After(e.cfg.ResubscribeInterval)
	}

	var typing <-chan models.TypingEvent
	if e.deps.Typing != nil {
		ts, err := e.deps.Typing.SubscribeTyping(ctx, s.roomID)
		if err != nil {
			e.log.Printf("typing subscribe failed room_id=%s err=%v", s.roomID, err)
		} else {
			typingSub = ts
			typing = ts.Events()
		}
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			e.refetch(ctx, s, sourcePoll)
			e.mu.Lock()
			if s.expireTyping(e.now(), e.cfg.TypingTTL) {
				e.publishLocked(s)
			}
			e.mu.Unlock()

		case ev, ok := <-events:
			if !ok {
				cause := sub.Err()
				_ = sub.Close()
				sub, events = nil, nil
				if ctx.Err() != nil {
					return
				}
				e.markDegraded(s, cause)
				resubscribe = time.After(e.cfg.ResubscribeInterval)
				continue
			}
			e.applyChange(ctx, s, ev)

		case <-resubscribe:
			resubscribe = nil
			if sub = e.subscribe(ctx, s); sub != nil {
				events = sub.Events()
				// notifications missed while degraded
				e.refetch(ctx, s, sourcePoll)
			} else if ctx.Err() == nil {
				resubscribe = time.After(e.cfg.ResubscribeInterval)
			}

		case ev, ok := <-typing:
			if !ok {
				typing = nil
				continue
			}
			e.noteTyping(s, ev)
		}
	}
}

// subscribe opens the change subscription and updates the degraded flag.
func (e *Engine) subscribe(ctx context.Context, s *roomSession) realtime.Subscription {
	sub, err := e.deps.Notifier.Subscribe(ctx, s.roomID)
	if err != nil {
		if ctx.Err() == nil {
			e.markDegraded(s, err)
		}
		return nil
	}

	e.mu.Lock()
	recovered := s.degraded
	if recovered {
		s.degraded = false
		observability.SetDegraded(false)
		e.publishLocked(s)
	}
	e.mu.Unlock()

	if recovered {
		e.log.Printf("resubscribed room_id=%s", s.roomID)
		observability.PublishSyncEvent(ctx, "resubscribed", e.userID, s.roomID, "")
	}
	return sub
}

func (e *Engine) markDegraded(s *roomSession, cause error) {
	err := fmt.Errorf("%w: %v", ErrSubscriptionLost, cause)
	e.log.Printf("poll-only room_id=%s err=%v", s.roomID, err)

	e.mu.Lock()
	already := s.degraded
	if !already {
		s.degraded = true
		observability.SetDegraded(true)
		e.publishLocked(s)
	}
	e.mu.Unlock()

	if !already {
		observability.PublishSyncEvent(context.Background(), "degraded", e.userID, s.roomID, err.Error())
	}
}

// refetch loads the full room and reconciles the local list with it.
func (e *Engine) refetch(ctx context.Context, s *roomSession, source string) {
	e.mu.Lock()
	start := s.store.gen
	e.mu.Unlock()

	records, err := e.deps.Messages.ListRoomMessages(ctx, s.roomID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncFetchFailure(source)
		e.log.Printf("fetch failed room_id=%s source=%s err=%v", s.roomID, source,
			fmt.Errorf("%w: %w", ErrRemoteFetchFailed, err))
		return
	}

	e.mu.Lock()
	fetched := make(map[string]struct{}, len(records))
	changed, merged, dupes := false, 0, 0
	for _, rec := range records {
		fetched[rec.ID] = struct{}{}
		switch e.mergeLocked(s, rec, false) {
		case mergeInserted, mergeUpdated:
			changed = true
			merged++
		case mergeUnchanged:
			dupes++
		}
	}
	if removed := s.store.prune(fetched, start); len(removed) > 0 {
		changed = true
	}
	if changed {
		e.publishLocked(s)
	}
	deliver := s.undelivered(e.userID)
	e.mu.Unlock()

	observability.AddMerged(source, merged)
	observability.AddDuplicates(dupes)
	if deliver {
		e.markDelivered(ctx, s)
	}
}

func (e *Engine) applyChange(ctx context.Context, s *roomSession, ev models.ChangeEvent) {
	if ev.RoomID != "" && ev.RoomID != s.roomID {
		return
	}

	e.mu.Lock()
	changed := false
	switch ev.Op {
	case models.OpDelete:
		changed = s.store.remove(ev.MessageID)
	default:
		if ev.Record == nil {
			e.mu.Unlock()
			return
		}
		switch e.mergeLocked(s, *ev.Record, ev.Correction) {
		case mergeInserted, mergeUpdated:
			changed = true
			observability.AddMerged(sourceNotify, 1)
		case mergeUnchanged:
			observability.AddDuplicates(1)
		}
	}
	if changed {
		e.publishLocked(s)
	}
	deliver := s.undelivered(e.userID)
	e.mu.Unlock()

	if deliver {
		e.markDelivered(ctx, s)
	}
}

// mergeLocked merges a server record and keeps the room preview current.
func (e *Engine) mergeLocked(s *roomSession, rec models.Message, correction bool) mergeResult {
	res := s.store.merge(rec, correction)
	if res == mergeInserted || res == mergeUpdated {
		e.bumpRoomLocked(rec)
	}
	return res
}

// markDelivered acknowledges receipt of others' messages. Failures are
// retried on the next merge pass.
func (e *Engine) markDelivered(ctx context.Context, s *roomSession) {
	e.mu.Lock()
	var ids []string
	for id, ent := range s.store.entries {
		if !ent.msg.Pending && ent.msg.SenderID != e.userID && ent.msg.Status == models.StatusSent {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	if _, err := e.deps.Messages.MarkDelivered(ctx, s.roomID, e.userID); err != nil {
		if ctx.Err() == nil {
			e.log.Printf("mark delivered failed room_id=%s err=%v", s.roomID, err)
		}
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	changed := false
	for _, id := range ids {
		if ent, ok := s.store.get(id); ok && ent.msg.Status == models.StatusSent {
			ent.msg.Status = models.StatusDelivered
			changed = true
		}
	}
	if changed {
		e.publishLocked(s)
	}
}

func (e *Engine) noteTyping(s *roomSession, ev models.TypingEvent) {
	if ev.UserID == "" || ev.UserID == e.userID || (ev.RoomID != "" && ev.RoomID != s.roomID) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.typing[ev.UserID] = e.now()
	e.publishLocked(s)
}
