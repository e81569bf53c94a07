package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupchat-service/internal/models"
)

var (
	ErrGroupNotFound       = errors.New("group not found")
	ErrTokenNotFound       = errors.New("invitation token not found")
	ErrTokenConflict       = errors.New("invitation token already in use")
	ErrInvitationsDisabled = errors.New("invitations disabled")
)

// GroupRepository abstracts group and membership persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, ownerID uuid.UUID, name string, token string) (models.Group, error)
	GetGroup(ctx context.Context, groupID uuid.UUID) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.Group, error)
	DeleteGroup(ctx context.Context, groupID uuid.UUID) error
	MemberRole(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (models.Role, bool, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.MemberView, error)
	GroupByToken(ctx context.Context, token string) (models.InvitationPreview, error)
	SetInvitationEnabled(ctx context.Context, groupID uuid.UUID, enabled bool) error
	ReplaceInvitationToken(ctx context.Context, groupID uuid.UUID, token string) error
	JoinViaToken(ctx context.Context, token string, groupID uuid.UUID, userID uuid.UUID) (bool, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

const groupColumns = `id, name, owner_id, invitation_token, invitation_enabled, created_at`

// CreateGroup creates a group and its owner membership atomically.
func (r *GroupRepo) CreateGroup(ctx context.Context, ownerID uuid.UUID, name string, token string) (models.Group, error) {
	var group models.Group
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &group, `INSERT INTO groups (name, owner_id, invitation_token) VALUES ($1, $2, $3) RETURNING `+groupColumns, name, ownerID, token); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'owner')`, group.ID, ownerID)
		return err
	})
	if isUniqueViolation(err) {
		return models.Group{}, ErrTokenConflict
	}
	if err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// GetGroup fetches a single group.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID uuid.UUID) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group, `SELECT `+groupColumns+` FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// ListGroupsForUser returns groups that include the user.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.name, g.owner_id, g.invitation_token, g.invitation_enabled, g.created_at
        FROM groups g INNER JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.user_id=$1 ORDER BY g.created_at DESC`, userID)
	return groups, err
}

// DeleteGroup removes a group; memberships, rooms and messages cascade.
func (r *GroupRepo) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id=$1`, groupID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// MemberRole returns the user's role in the group and whether a membership exists.
func (r *GroupRepo) MemberRole(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (models.Role, bool, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role, `SELECT role FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}

// ListMembers returns memberships with profile data, owners first.
func (r *GroupRepo) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.MemberView, error) {
	var members []models.MemberView
	err := r.db.SelectContext(ctx, &members, `SELECT gm.group_id, gm.user_id, gm.role, gm.joined_at,
            COALESCE(p.display_name, '') AS display_name, COALESCE(p.email, '') AS email
        FROM group_members gm LEFT JOIN profiles p ON p.user_id = gm.user_id
        WHERE gm.group_id=$1
        ORDER BY CASE gm.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, gm.joined_at ASC`, groupID)
	return members, err
}

// GroupByToken resolves an invitation token to its group.
func (r *GroupRepo) GroupByToken(ctx context.Context, token string) (models.InvitationPreview, error) {
	var preview models.InvitationPreview
	err := r.db.GetContext(ctx, &preview, `SELECT id, name, invitation_enabled FROM groups WHERE invitation_token=$1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return models.InvitationPreview{}, ErrTokenNotFound
	}
	return preview, err
}

// SetInvitationEnabled toggles whether the group's token is accepted.
func (r *GroupRepo) SetInvitationEnabled(ctx context.Context, groupID uuid.UUID, enabled bool) error {
	return r.execOne(ctx, `UPDATE groups SET invitation_enabled=$2 WHERE id=$1`, groupID, enabled)
}

// ReplaceInvitationToken atomically swaps the group's token, invalidating the old one.
func (r *GroupRepo) ReplaceInvitationToken(ctx context.Context, groupID uuid.UUID, token string) error {
	err := r.execOne(ctx, `UPDATE groups SET invitation_token=$2 WHERE id=$1`, groupID, token)
	if isUniqueViolation(err) {
		return ErrTokenConflict
	}
	return err
}

// JoinViaToken is the privileged join procedure. The token is validated again
// under a share lock on the group row, so a concurrent regeneration either
// completes first (the token no longer matches) or waits for this join to commit.
// It reports whether a membership row was created.
func (r *GroupRepo) JoinViaToken(ctx context.Context, token string, groupID uuid.UUID, userID uuid.UUID) (bool, error) {
	joined := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current struct {
			ID      uuid.UUID `db:"id"`
			Enabled bool      `db:"invitation_enabled"`
		}
		err := tx.GetContext(ctx, &current, `SELECT id, invitation_enabled FROM groups WHERE invitation_token=$1 FOR SHARE`, token)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		if current.ID != groupID {
			return ErrTokenNotFound
		}
		if !current.Enabled {
			return ErrInvitationsDisabled
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, 'member')
            ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID)
		if err != nil {
			return err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return err
		}
		joined = count == 1
		return nil
	})
	return joined, err
}

func (r *GroupRepo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrGroupNotFound
	}
	return nil
}
