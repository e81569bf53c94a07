package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a member's role inside a group.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanManageInvitations reports whether the role may toggle or regenerate invitations.
func (r Role) CanManageInvitations() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Group represents an organizational unit with an invitation mechanism.
type Group struct {
	ID                uuid.UUID `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	OwnerID           uuid.UUID `db:"owner_id" json:"owner_id"`
	InvitationToken   string    `db:"invitation_token" json:"invitation_token,omitempty"`
	InvitationEnabled bool      `db:"invitation_enabled" json:"invitation_enabled"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Membership links a user to a group.
type Membership struct {
	GroupID  uuid.UUID `db:"group_id" json:"group_id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	Role     Role      `db:"role" json:"role"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// MemberView is a membership joined with the member's display identity.
type MemberView struct {
	Membership
	DisplayName string `db:"display_name" json:"display_name"`
	Email       string `db:"email" json:"email"`
}

// InvitationPreview is what an invitee may see before accepting.
type InvitationPreview struct {
	GroupID           uuid.UUID `db:"id" json:"group_id"`
	GroupName         string    `db:"name" json:"group_name"`
	InvitationEnabled bool      `db:"invitation_enabled" json:"invitation_enabled"`
}

// JoinResult describes a successful join. Joined is false when the user was
// already a member.
type JoinResult struct {
	GroupID uuid.UUID `json:"group_id"`
	Joined  bool      `json:"joined"`
}

// Invitation is a freshly issued token together with its shareable link.
type Invitation struct {
	Token string `json:"token"`
	Link  string `json:"link"`
}
