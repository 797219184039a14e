package models

import "time"

// RoomKind distinguishes two-party rooms from group rooms.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Room is a conversation as seen by one participant.
type Room struct {
	ID            string     `db:"id" json:"id"`
	Kind          RoomKind   `db:"kind" json:"kind"`
	Name          string     `db:"name" json:"name"`
	AvatarURL     string     `db:"avatar_url" json:"avatar_url,omitempty"`
	CounterpartID string     `db:"counterpart_id" json:"counterpart_id,omitempty"`
	Online        bool       `db:"online" json:"online"`
	LastSeen      *time.Time `db:"last_seen" json:"last_seen,omitempty"`
	LastActivity  time.Time  `db:"last_activity" json:"last_activity"`
	LastMessage   string     `db:"last_message" json:"last_message,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Profile is the public part of a user account.
type Profile struct {
	ID        string     `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	AvatarURL string     `db:"avatar_url" json:"avatar_url,omitempty"`
	Status    string     `db:"status" json:"status,omitempty"`
	Online    bool       `db:"is_online" json:"online"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}

// PairKey identifies the private room between two users regardless of order.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
