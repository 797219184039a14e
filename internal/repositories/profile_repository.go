package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

// ProfileRepository covers the profile reads and presence writes of a session.
type ProfileRepository interface {
	SearchProfiles(ctx context.Context, query string, excludeID string, limit int) ([]models.Profile, error)
	Touch(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchProfiles matches usernames case-insensitively by substring.
func (r *ProfileRepo) SearchProfiles(ctx context.Context, query string, excludeID string, limit int) ([]models.Profile, error) {
	var profiles []models.Profile
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, username, avatar_url, status, is_online, last_seen FROM profiles
        WHERE username ILIKE '%' || $1 || '%' AND id <> $2
        ORDER BY username ASC LIMIT $3`, likeEscaper.Replace(query), excludeID, limit)
	return profiles, err
}

// Touch marks the user online and refreshes last_seen.
func (r *ProfileRepo) Touch(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_online = TRUE, last_seen = NOW() WHERE id=$1`, userID)
	return err
}

// SetOffline marks the user offline.
func (r *ProfileRepo) SetOffline(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_online = FALSE, last_seen = NOW() WHERE id=$1`, userID)
	return err
}

// MarkStaleOffline flips users whose heartbeat is older than cutoff to offline.
func (r *ProfileRepo) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE profiles SET is_online = FALSE WHERE is_online AND (last_seen IS NULL OR last_seen < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
