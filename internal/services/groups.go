package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

const maxGroupNameLength = 100

// Groups covers the group record operations membership depends on.
type Groups struct {
	groups   repositories.GroupRepository
	audit    Auditor
	log      *zap.Logger
	newToken func() (string, error)
}

// NewGroups constructs Groups.
func NewGroups(groups repositories.GroupRepository, audit Auditor, log *zap.Logger) *Groups {
	return &Groups{groups: groups, audit: auditorOrNoop(audit), log: log, newToken: GenerateToken}
}

// Create makes a group owned by owner, with invitations enabled.
func (s *Groups) Create(ctx context.Context, owner uuid.UUID, name string) (models.Group, error) {
	if err := requireIDs(owner); err != nil {
		return models.Group{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, apperr.Validation("group name is required")
	}
	if len(name) > maxGroupNameLength {
		return models.Group{}, apperr.Validation("group name exceeds %d characters", maxGroupNameLength)
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return models.Group{}, apperr.Transient(err)
		}
		group, err := s.groups.CreateGroup(ctx, owner, name, token)
		if errors.Is(err, repositories.ErrTokenConflict) {
			continue
		}
		if err != nil {
			return models.Group{}, storeErr(err)
		}
		s.log.Info("group created", zap.String("group_id", group.ID.String()), zap.String("owner_id", owner.String()))
		return group, nil
	}
	return models.Group{}, apperr.Transient(repositories.ErrTokenConflict)
}

// List returns the caller's groups. Invitation tokens are only shown to the owner.
func (s *Groups) List(ctx context.Context, caller uuid.UUID) ([]models.Group, error) {
	if err := requireIDs(caller); err != nil {
		return nil, err
	}
	groups, err := s.groups.ListGroupsForUser(ctx, caller)
	if err != nil {
		return nil, storeErr(err)
	}
	result := make([]models.Group, 0, len(groups))
	for _, g := range groups {
		if g.OwnerID != caller {
			g.InvitationToken = ""
		}
		result = append(result, g)
	}
	return result, nil
}

// Delete removes the group with its memberships, rooms and messages. Owner only.
func (s *Groups) Delete(ctx context.Context, caller, groupID uuid.UUID) error {
	if err := requireIDs(caller, groupID); err != nil {
		return err
	}
	role, err := roleOf(ctx, s.groups, groupID, caller)
	if err != nil {
		return err
	}
	if role != models.RoleOwner {
		return apperr.ErrNotAuthorized
	}
	if err := s.groups.DeleteGroup(ctx, groupID); err != nil {
		return storeErr(err)
	}
	s.audit.Emit(ctx, "INFO", fmt.Sprintf("group.delete group=%s", groupID), &caller)
	return nil
}

// Members lists the group's members. Caller must be a member.
func (s *Groups) Members(ctx context.Context, caller, groupID uuid.UUID) ([]models.MemberView, error) {
	if err := requireIDs(caller, groupID); err != nil {
		return nil, err
	}
	if _, err := roleOf(ctx, s.groups, groupID, caller); err != nil {
		return nil, err
	}
	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		return nil, storeErr(err)
	}
	if members == nil {
		members = []models.MemberView{}
	}
	return members, nil
}
