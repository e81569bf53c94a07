package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
	"groupchat-service/internal/repositories"
)

const (
	tokenBytes       = 32
	tokenAttempts    = 3
	maxTokenLength   = 128
	invitePathPrefix = "/invite/"
)

// Invitations implements the group invitation token lifecycle.
type Invitations struct {
	groups   repositories.GroupRepository
	audit    Auditor
	baseURL  string
	log      *zap.Logger
	newToken func() (string, error)
}

// NewInvitations constructs Invitations. baseURL prefixes invitation links.
func NewInvitations(groups repositories.GroupRepository, audit Auditor, baseURL string, log *zap.Logger) *Invitations {
	return &Invitations{
		groups:   groups,
		audit:    auditorOrNoop(audit),
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
		newToken: GenerateToken,
	}
}

// GenerateToken returns a URL-safe token of 32 random bytes.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Link embeds token as the last path segment of the invitation URL.
func (s *Invitations) Link(token string) string {
	return s.baseURL + invitePathPrefix + token
}

func validToken(token string) bool {
	if token == "" || len(token) > maxTokenLength {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Preview shows what a token grants without joining.
func (s *Invitations) Preview(ctx context.Context, token string) (models.InvitationPreview, error) {
	if !validToken(token) {
		return models.InvitationPreview{}, apperr.ErrInvalidToken
	}
	preview, err := s.groups.GroupByToken(ctx, token)
	if err != nil {
		return models.InvitationPreview{}, storeErr(err)
	}
	return preview, nil
}

// Join redeems token for user. Re-accepting as an existing member succeeds
// without change. The membership insert re-validates the token, so a
// regeneration that lands between lookup and insert fails the join with
// InvalidToken.
func (s *Invitations) Join(ctx context.Context, token string, user uuid.UUID) (models.JoinResult, error) {
	if err := requireIDs(user); err != nil {
		return models.JoinResult{}, err
	}
	result, err := s.join(ctx, token, user)
	observability.IncInvitationJoin(joinOutcome(result, err))
	return result, err
}

func (s *Invitations) join(ctx context.Context, token string, user uuid.UUID) (models.JoinResult, error) {
	preview, err := s.Preview(ctx, token)
	if err != nil {
		return models.JoinResult{}, err
	}
	if !preview.InvitationEnabled {
		return models.JoinResult{}, apperr.ErrInvitationsDisabled
	}

	_, member, err := s.groups.MemberRole(ctx, preview.GroupID, user)
	if err != nil {
		return models.JoinResult{}, apperr.Transient(err)
	}
	if member {
		return models.JoinResult{GroupID: preview.GroupID}, nil
	}

	joined, err := s.groups.JoinViaToken(ctx, token, preview.GroupID, user)
	if err != nil {
		return models.JoinResult{}, storeErr(err)
	}
	if joined {
		s.log.Info("member joined via invitation", zap.String("group_id", preview.GroupID.String()), zap.String("user_id", user.String()))
		s.audit.Emit(ctx, "INFO", fmt.Sprintf("invitation.join group=%s", preview.GroupID), &user)
	}
	return models.JoinResult{GroupID: preview.GroupID, Joined: joined}, nil
}

func joinOutcome(result models.JoinResult, err error) string {
	if err != nil {
		if code := apperr.Code(err); code != "" {
			return code
		}
		return "error"
	}
	if result.Joined {
		return "joined"
	}
	return "already_member"
}

// SetEnabled toggles whether the group's token is accepted. Owners and
// admins only.
func (s *Invitations) SetEnabled(ctx context.Context, caller, groupID uuid.UUID, enabled bool) error {
	if err := s.requireManager(ctx, caller, groupID); err != nil {
		return err
	}
	if err := s.groups.SetInvitationEnabled(ctx, groupID, enabled); err != nil {
		return storeErr(err)
	}
	s.audit.Emit(ctx, "INFO", fmt.Sprintf("invitation.toggle group=%s enabled=%t", groupID, enabled), &caller)
	return nil
}

// Regenerate replaces the group's token, invalidating the previous one. The
// enabled flag is left unchanged. Owners and admins only.
func (s *Invitations) Regenerate(ctx context.Context, caller, groupID uuid.UUID) (models.Invitation, error) {
	if err := s.requireManager(ctx, caller, groupID); err != nil {
		return models.Invitation{}, err
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return models.Invitation{}, apperr.Transient(err)
		}
		err = s.groups.ReplaceInvitationToken(ctx, groupID, token)
		if errors.Is(err, repositories.ErrTokenConflict) {
			s.log.Warn("invitation token collision, retrying", zap.String("group_id", groupID.String()))
			continue
		}
		if err != nil {
			return models.Invitation{}, storeErr(err)
		}
		s.audit.Emit(ctx, "INFO", fmt.Sprintf("invitation.regenerate group=%s", groupID), &caller)
		return models.Invitation{Token: token, Link: s.Link(token)}, nil
	}
	return models.Invitation{}, apperr.Transient(repositories.ErrTokenConflict)
}

func (s *Invitations) requireManager(ctx context.Context, caller, groupID uuid.UUID) error {
	if err := requireIDs(caller, groupID); err != nil {
		return err
	}
	role, err := roleOf(ctx, s.groups, groupID, caller)
	if err != nil {
		return err
	}
	if !role.CanManageInvitations() {
		return apperr.ErrNotAuthorized
	}
	return nil
}
