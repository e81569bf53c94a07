package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"groupchat-service/internal/models"
)

// ProfileRepository stores user display identities.
type ProfileRepository interface {
	BulkProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
	UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// BulkProfiles fetches multiple profiles in one query. Unknown ids are skipped.
func (r *ProfileRepo) BulkProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}

	var profiles []models.Profile
	err := r.db.SelectContext(ctx, &profiles, `SELECT user_id, display_name, email, updated_at FROM profiles WHERE user_id = ANY($1::uuid[])`, pq.Array(keys))
	return profiles, err
}

// UpsertProfile creates or replaces the user's profile.
func (r *ProfileRepo) UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	var stored models.Profile
	err := r.db.GetContext(ctx, &stored, `INSERT INTO profiles (user_id, display_name, email) VALUES ($1, $2, $3)
        ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email, updated_at = NOW()
        RETURNING user_id, display_name, email, updated_at`, profile.UserID, profile.DisplayName, profile.Email)
	return stored, err
}
