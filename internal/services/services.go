// Package services holds the server side procedures exposed to callers:
// room resolution, the invitation lifecycle, and message operations. Every
// error returned belongs to the apperr taxonomy.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

// Auditor records security relevant actions.
type Auditor interface {
	Emit(ctx context.Context, level, text string, userID *uuid.UUID)
}

type noopAuditor struct{}

func (noopAuditor) Emit(context.Context, string, string, *uuid.UUID) {}

func auditorOrNoop(a Auditor) Auditor {
	if a == nil {
		return noopAuditor{}
	}
	return a
}

// storeErr maps repository errors into the taxonomy. Anything unrecognised is
// a failed store round trip.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrGroupNotFound),
		errors.Is(err, repositories.ErrRoomNotFound),
		errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	case errors.Is(err, repositories.ErrTokenNotFound):
		return apperr.ErrInvalidToken
	case errors.Is(err, repositories.ErrInvitationsDisabled):
		return apperr.ErrInvitationsDisabled
	case errors.Is(err, repositories.ErrNotRoomMember):
		return fmt.Errorf("%w: %w", apperr.ErrNotAuthorized, err)
	case errors.Is(err, repositories.ErrSelfDirect):
		return apperr.Validation("%v", err)
	}
	return apperr.Transient(err)
}

func requireIDs(ids ...uuid.UUID) error {
	for _, id := range ids {
		if id == uuid.Nil {
			return apperr.Validation("missing identifier")
		}
	}
	return nil
}

// roleOf returns the user's role in the group. A non-member of an existing
// group is NotAuthorized; a missing group is NotFound.
func roleOf(ctx context.Context, groups repositories.GroupRepository, groupID, userID uuid.UUID) (models.Role, error) {
	role, ok, err := groups.MemberRole(ctx, groupID, userID)
	if err != nil {
		return "", apperr.Transient(err)
	}
	if ok {
		return role, nil
	}
	if _, err := groups.GetGroup(ctx, groupID); err != nil {
		return "", storeErr(err)
	}
	return "", apperr.ErrNotAuthorized
}
