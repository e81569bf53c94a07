package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/profiles"
	"groupchat-service/internal/repositories"
)

// Profiles updates display identities and keeps the sender cache coherent.
type Profiles struct {
	repo  repositories.ProfileRepository
	cache profiles.Resolver
	log   *zap.Logger
}

// NewProfiles constructs Profiles.
func NewProfiles(repo repositories.ProfileRepository, cache profiles.Resolver, log *zap.Logger) *Profiles {
	return &Profiles{repo: repo, cache: cache, log: log}
}

const maxLookup = 100

// Lookup resolves display identities for ids. Unknown users come back as
// placeholders.
func (s *Profiles) Lookup(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if len(ids) == 0 {
		return []models.Profile{}, nil
	}
	if len(ids) > maxLookup {
		return nil, apperr.Validation("too many ids")
	}
	if err := requireIDs(ids...); err != nil {
		return nil, err
	}
	resolved, err := s.cache.Resolve(ctx, ids)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	out := make([]models.Profile, 0, len(ids))
	for _, id := range ids {
		p, ok := resolved[id]
		if !ok {
			p = models.PlaceholderProfile(id)
		}
		out = append(out, p)
	}
	return out, nil
}

// Update stores caller's profile and drops the cached copy.
func (s *Profiles) Update(ctx context.Context, caller uuid.UUID, displayName, email string) (models.Profile, error) {
	if err := requireIDs(caller); err != nil {
		return models.Profile{}, err
	}
	displayName = strings.TrimSpace(displayName)
	email = strings.TrimSpace(email)
	if displayName == "" && email == "" {
		return models.Profile{}, apperr.Validation("display_name or email is required")
	}

	stored, err := s.repo.UpsertProfile(ctx, models.Profile{UserID: caller, DisplayName: displayName, Email: email})
	if err != nil {
		return models.Profile{}, storeErr(err)
	}
	if err := s.cache.Invalidate(ctx, caller); err != nil {
		s.log.Warn("profile cache invalidation failed", zap.Error(err), zap.String("user_id", caller.String()))
	}
	return stored, nil
}
