package chatsync

import (
	"sort"

	"chat-sync/internal/models"
)

type mergeResult int

const (
	mergeIgnored mergeResult = iota
	mergeUnchanged
	mergeUpdated
	mergeInserted
)

type entry struct {
	msg models.Message
	// seen is the store generation of the last merge that touched the entry.
	seen uint64
	// holds counts reaction writes in flight; while positive, incoming
	// records do not overwrite the local reaction map.
	holds int
}

// messageStore is one room's message list: entries by id plus the id order
// sorted by (CreatedAt, ID). Deleted ids are tombstoned so late refetches
// cannot resurrect them.
type messageStore struct {
	entries    map[string]*entry
	order      []string
	tombstones map[string]struct{}
	// outbox is the reconciliation table: ids of optimistic entries whose
	// server record has not arrived. A record's ClientID only replaces an
	// entry listed here.
	outbox map[string]struct{}
	gen    uint64
}

func newMessageStore() *messageStore {
	return &messageStore{
		entries:    make(map[string]*entry),
		tombstones: make(map[string]struct{}),
		outbox:     make(map[string]struct{}),
	}
}

func (s *messageStore) len() int { return len(s.order) }

func (s *messageStore) get(id string) (*entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// insertLocal adds an optimistic entry that only the local session knows about.
func (s *messageStore) insertLocal(msg models.Message) {
	s.gen++
	msg.Pending = true
	msg.Reactions = msg.Reactions.Normalize()
	s.entries[msg.ID] = &entry{msg: msg, seen: s.gen}
	s.insertOrdered(msg.ID)
	s.outbox[msg.ID] = struct{}{}
}

// awaiting reports whether clientID is an optimistic entry still waiting
// for its server record.
func (s *messageStore) awaiting(clientID string) bool {
	_, ok := s.outbox[clientID]
	return ok
}

func (s *messageStore) settle(rec models.Message) {
	delete(s.outbox, rec.ID)
	if rec.ClientID != "" {
		delete(s.outbox, rec.ClientID)
	}
}

// merge folds a server record into the list. The incoming record wins on
// every field except Status, which only moves forward unless correction is
// set, and Reactions while a local reaction write is in flight.
func (s *messageStore) merge(rec models.Message, correction bool) mergeResult {
	if _, dead := s.tombstones[rec.ID]; dead {
		return mergeIgnored
	}
	rec = rec.Clone()
	rec.Pending = false
	rec.Reactions = rec.Reactions.Normalize()

	replaced := false
	if rec.ClientID != "" && rec.ClientID != rec.ID && s.awaiting(rec.ClientID) {
		if local, ok := s.entries[rec.ClientID]; ok && local.msg.Pending {
			s.drop(rec.ClientID)
			replaced = true
		}
	}
	s.settle(rec)

	s.gen++
	cur, ok := s.entries[rec.ID]
	if !ok {
		if !rec.Status.Valid() {
			rec.Status = models.StatusSent
		}
		s.entries[rec.ID] = &entry{msg: rec, seen: s.gen}
		s.insertOrdered(rec.ID)
		if replaced {
			return mergeUpdated
		}
		return mergeInserted
	}

	next := rec
	if correction && rec.Status.Valid() {
		next.Status = rec.Status
	} else {
		next.Status = cur.msg.Status.Advance(rec.Status)
	}
	if cur.holds > 0 {
		next.Reactions = cur.msg.Reactions
	}
	cur.seen = s.gen

	if sameMessage(cur.msg, next) {
		return mergeUnchanged
	}
	moved := !cur.msg.CreatedAt.Equal(next.CreatedAt)
	cur.msg = next
	if moved {
		s.removeOrdered(rec.ID)
		s.insertOrdered(rec.ID)
	}
	return mergeUpdated
}

// prune removes confirmed entries missing from a full refetch that started at
// generation start. Entries merged after the fetch began are kept because the
// fetch may simply predate them.
func (s *messageStore) prune(fetched map[string]struct{}, start uint64) []string {
	var removed []string
	for id, e := range s.entries {
		if e.msg.Pending || e.seen > start {
			continue
		}
		if _, ok := fetched[id]; ok {
			continue
		}
		removed = append(removed, id)
	}
	for _, id := range removed {
		s.drop(id)
	}
	return removed
}

// remove deletes id and tombstones it.
func (s *messageStore) remove(id string) bool {
	s.tombstones[id] = struct{}{}
	delete(s.outbox, id)
	return s.drop(id)
}

// revive clears a tombstone set by a delete that did not go through.
func (s *messageStore) revive(id string) {
	delete(s.tombstones, id)
}

// removePending drops an optimistic entry that was never confirmed.
func (s *messageStore) removePending(id string) bool {
	delete(s.outbox, id)
	e, ok := s.entries[id]
	if !ok || !e.msg.Pending {
		return false
	}
	return s.drop(id)
}

func (s *messageStore) drop(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.removeOrdered(id)
	delete(s.entries, id)
	return true
}

func (s *messageStore) insertOrdered(id string) {
	msg := s.entries[id].msg
	i := sort.Search(len(s.order), func(i int) bool {
		return msg.Before(s.entries[s.order[i]].msg)
	})
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = id
}

func (s *messageStore) removeOrdered(id string) {
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// snapshot returns a deep copy of the ordered list.
func (s *messageStore) snapshot() []models.Message {
	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].msg.Clone())
	}
	return out
}

// last returns up to n trailing messages, oldest first.
func (s *messageStore) last(n int) []models.Message {
	start := len(s.order) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.Message, 0, len(s.order)-start)
	for _, id := range s.order[start:] {
		out = append(out, s.entries[id].msg.Clone())
	}
	return out
}

func sameMessage(a, b models.Message) bool {
	if a.ID != b.ID || a.ClientID != b.ClientID || a.RoomID != b.RoomID ||
		a.SenderID != b.SenderID || a.Content != b.Content || a.Kind != b.Kind ||
		a.Status != b.Status || a.Pending != b.Pending || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	if len(a.Reactions) != len(b.Reactions) {
		return false
	}
	for emoji, users := range a.Reactions {
		other, ok := b.Reactions[emoji]
		if !ok || len(other) != len(users) {
			return false
		}
		for i := range users {
			if users[i] != other[i] {
				return false
			}
		}
	}
	return true
}
