package models

// ChangeOp is the kind of row change carried by a notification.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent describes one changed message row.
type ChangeEvent struct {
	Op        ChangeOp `json:"op"`
	RoomID    string   `json:"room_id"`
	MessageID string   `json:"id"`
	Record    *Message `json:"record,omitempty"`
	// Correction allows the record to move a status backwards.
	Correction bool `json:"correction,omitempty"`
}

// TypingEvent is broadcast on a room channel while a user types.
type TypingEvent struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}
