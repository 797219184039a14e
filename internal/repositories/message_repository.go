package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, client_id, room_id, sender_id, content, kind, status, reactions, created_at`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)
	DeleteMessage(ctx context.Context, roomID string, messageID string) error
	UpdateReactions(ctx context.Context, messageID string, reactions models.Reactions) error
	MarkRead(ctx context.Context, roomID string, readerID string) (int64, error)
	MarkDelivered(ctx context.Context, roomID string, recipientID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ListRoomMessages returns every message of a room, oldest first.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE room_id=$1 ORDER BY created_at ASC, id ASC`, roomID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// InsertMessage stores a message under its client-assigned id. Re-inserting
// the same id is a no-op and returns the stored row.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	status := msg.Status
	if !status.Valid() {
		status = models.StatusSent
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO messages (id, client_id, room_id, sender_id, content, kind, status, reactions, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ClientID, msg.RoomID, msg.SenderID, msg.Content, msg.Kind, status, msg.Reactions, msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}
	return r.GetMessage(ctx, msg.ID)
}

// DeleteMessage hard-deletes a message of the room.
func (r *MessageRepo) DeleteMessage(ctx context.Context, roomID string, messageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND room_id=$2`, messageID, roomID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// UpdateReactions replaces the reaction map of a message.
func (r *MessageRepo) UpdateReactions(ctx context.Context, messageID string, reactions models.Reactions) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET reactions=$2 WHERE id=$1`, messageID, reactions)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkRead moves every unread message not sent by readerID to read.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID string, readerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status='read'
        WHERE room_id=$1 AND sender_id<>$2 AND status IN ('sent', 'delivered')`, roomID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkDelivered moves sent messages not sent by recipientID to delivered.
func (r *MessageRepo) MarkDelivered(ctx context.Context, roomID string, recipientID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status='delivered'
        WHERE room_id=$1 AND sender_id<>$2 AND status='sent'`, roomID, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
