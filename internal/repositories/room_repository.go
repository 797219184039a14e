package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	// ErrDuplicateRoomCreation is returned when a concurrent writer created
	// the private room for the same pair first.
	ErrDuplicateRoomCreation = errors.New("private room already exists")
	ErrSelfRoom              = errors.New("cannot create chat with self")
)

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	GetRoom(ctx context.Context, roomID string, viewerID string) (models.Room, error)
	FindPrivateRoom(ctx context.Context, userID string, otherID string) (string, error)
	CreatePrivateRoom(ctx context.Context, userID string, otherID string) (string, error)
	IsParticipant(ctx context.Context, roomID string, userID string) (bool, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// roomQuery resolves private rooms to the counterpart's profile and attaches
// the latest message as preview. Private rooms without a counterpart are
// skipped.
const roomQuery = `SELECT r.id, r.kind,
        COALESCE(NULLIF(p.username, ''), r.name) AS name,
        COALESCE(NULLIF(p.avatar_url, ''), r.image_url) AS avatar_url,
        COALESCE(other.user_id, '') AS counterpart_id,
        COALESCE(p.is_online, FALSE) AS online,
        p.last_seen,
        COALESCE(lm.created_at, r.created_at) AS last_activity,
        CASE lm.kind WHEN 'image' THEN 'Photo' WHEN 'audio' THEN 'Voice message' ELSE COALESCE(lm.content, '') END AS last_message,
        r.created_at
    FROM room_participants me
    JOIN rooms r ON r.id = me.room_id
    LEFT JOIN room_participants other ON r.kind = 'private' AND other.room_id = r.id AND other.user_id <> me.user_id
    LEFT JOIN profiles p ON p.id = other.user_id
    LEFT JOIN LATERAL (
        SELECT m.content, m.kind, m.created_at FROM messages m
        WHERE m.room_id = r.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1
    ) lm ON TRUE
    WHERE me.user_id = $1 AND NOT (r.kind = 'private' AND other.user_id IS NULL)`

// ListRoomsForUser returns the user's rooms, most recently active first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, roomQuery+` ORDER BY last_activity DESC`, userID)
	return rooms, err
}

// GetRoom fetches a single room as seen by viewerID.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string, viewerID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, roomQuery+` AND r.id = $2`, viewerID, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// FindPrivateRoom returns the id of the private room between two users.
func (r *RoomRepo) FindPrivateRoom(ctx context.Context, userID string, otherID string) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `SELECT id FROM rooms WHERE pair_key=$1`, models.PairKey(userID, otherID))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRoomNotFound
	}
	return id, err
}

// CreatePrivateRoom creates the private room and both participants atomically.
// The pair key is unique, so a lost race yields ErrDuplicateRoomCreation.
func (r *RoomRepo) CreatePrivateRoom(ctx context.Context, userID string, otherID string) (string, error) {
	if userID == otherID {
		return "", ErrSelfRoom
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	roomID := uuid.NewString()
	res, err := tx.ExecContext(ctx, `INSERT INTO rooms (id, kind, pair_key) VALUES ($1, 'private', $2)
        ON CONFLICT (pair_key) DO NOTHING`, roomID, models.PairKey(userID, otherID))
	if err != nil {
		return "", err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if count == 0 {
		err = ErrDuplicateRoomCreation
		return "", err
	}

	for _, id := range []string{userID, otherID} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, roomID, id); err != nil {
			return "", err
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return roomID, nil
}

// IsParticipant checks whether a user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}
