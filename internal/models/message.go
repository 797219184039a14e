package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindAudio MessageKind = "audio"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio:
		return true
	}
	return false
}

// Message represents a chat message.
type Message struct {
	ID        string      `db:"id" json:"id"`
	ClientID  string      `db:"client_id" json:"client_id,omitempty"`
	RoomID    string      `db:"room_id" json:"room_id"`
	SenderID  string      `db:"sender_id" json:"sender_id"`
	Content   string      `db:"content" json:"content"`
	Kind      MessageKind `db:"kind" json:"kind"`
	Status    Status      `db:"status" json:"status"`
	Reactions Reactions   `db:"reactions" json:"reactions,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`

	// Pending is set on optimistic entries until the server record arrives.
	Pending bool `db:"-" json:"pending,omitempty"`
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	m.Reactions = m.Reactions.Clone()
	return m
}

// Before orders messages by creation time, then id.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Reactions maps an emoji to the ids of the users who reacted with it.
// Reactor lists are kept sorted and an emoji never maps to an empty list.
type Reactions map[string][]string

// Clone returns a deep copy. A nil map clones to nil.
func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// Has reports whether userID reacted with emoji.
func (r Reactions) Has(emoji, userID string) bool {
	for _, u := range r[emoji] {
		if u == userID {
			return true
		}
	}
	return false
}

// Add returns a copy with userID added to emoji. Adding twice is a no-op.
func (r Reactions) Add(emoji, userID string) Reactions {
	out := r.Normalize()
	if out == nil {
		out = Reactions{}
	}
	if out.Has(emoji, userID) {
		return out
	}
	users := append(out[emoji], userID)
	sort.Strings(users)
	out[emoji] = users
	return out
}

// Remove returns a copy with userID removed from emoji.
func (r Reactions) Remove(emoji, userID string) Reactions {
	out := r.Normalize()
	users := out[emoji]
	kept := users[:0]
	for _, u := range users {
		if u != userID {
			kept = append(kept, u)
		}
	}
	if len(kept) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = kept
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Toggle adds userID to emoji, or removes it if already present.
func (r Reactions) Toggle(emoji, userID string) Reactions {
	if r.Has(emoji, userID) {
		return r.Remove(emoji, userID)
	}
	return r.Add(emoji, userID)
}

// Normalize returns a sorted, deduplicated copy without empty sets.
func (r Reactions) Normalize() Reactions {
	if len(r) == 0 {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		seen := make(map[string]struct{}, len(users))
		list := make([]string, 0, len(users))
		for _, u := range users {
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			list = append(list, u)
		}
		if len(list) == 0 {
			continue
		}
		sort.Strings(list)
		out[emoji] = list
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Value stores reactions as jsonb.
func (r Reactions) Value() (driver.Value, error) {
	n := r.Normalize()
	if n == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(n)
}

// Scan reads reactions from a jsonb column.
func (r *Reactions) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("reactions: unsupported column type")
	}
	var decoded Reactions
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*r = decoded.Normalize()
	return nil
}

// CoachTurn is one role-tagged line of history handed to the coach.
type CoachTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser    = "user"
	RolePartner = "partner"
)

// Preview is the one-line room list summary of a message.
func (m Message) Preview() string {
	switch m.Kind {
	case KindImage:
		return "Photo"
	case KindAudio:
		return "Voice message"
	}
	return m.Content
}
