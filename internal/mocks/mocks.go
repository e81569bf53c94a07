package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, ownerID uuid.UUID, name string, token string) (models.Group, error) {
	args := m.Called(ctx, ownerID, name, token)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID uuid.UUID) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *GroupRepositoryMock) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}

func (m *GroupRepositoryMock) MemberRole(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (models.Role, bool, error) {
	args := m.Called(ctx, groupID, userID)
	var role models.Role
	if val := args.Get(0); val != nil {
		role = val.(models.Role)
	}
	return role, args.Bool(1), args.Error(2)
}

func (m *GroupRepositoryMock) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.MemberView, error) {
	args := m.Called(ctx, groupID)
	var members []models.MemberView
	if val := args.Get(0); val != nil {
		members = val.([]models.MemberView)
	}
	return members, args.Error(1)
}

func (m *GroupRepositoryMock) GroupByToken(ctx context.Context, token string) (models.InvitationPreview, error) {
	args := m.Called(ctx, token)
	var preview models.InvitationPreview
	if val := args.Get(0); val != nil {
		preview = val.(models.InvitationPreview)
	}
	return preview, args.Error(1)
}

func (m *GroupRepositoryMock) SetInvitationEnabled(ctx context.Context, groupID uuid.UUID, enabled bool) error {
	args := m.Called(ctx, groupID, enabled)
	return args.Error(0)
}

func (m *GroupRepositoryMock) ReplaceInvitationToken(ctx context.Context, groupID uuid.UUID, token string) error {
	args := m.Called(ctx, groupID, token)
	return args.Error(0)
}

func (m *GroupRepositoryMock) JoinViaToken(ctx context.Context, token string, groupID uuid.UUID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, token, groupID, userID)
	return args.Bool(0), args.Error(1)
}

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) GetOrCreateGroupRoom(ctx context.Context, groupID uuid.UUID, creatorID uuid.UUID) (models.ChatRoom, bool, error) {
	args := m.Called(ctx, groupID, creatorID)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Bool(1), args.Error(2)
}

func (m *RoomRepositoryMock) GetOrCreateDirectRoom(ctx context.Context, groupID uuid.UUID, userA uuid.UUID, userB uuid.UUID) (models.ChatRoom, bool, error) {
	args := m.Called(ctx, groupID, userA, userB)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Bool(1), args.Error(2)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID uuid.UUID) (models.ChatRoom, error) {
	args := m.Called(ctx, roomID)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) CanAccess(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) RoomAudience(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, roomID)
	var users []uuid.UUID
	if val := args.Get(0); val != nil {
		users = val.([]uuid.UUID)
	}
	return users, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userID)
	var rooms []models.RoomSummary
	if val := args.Get(0); val != nil {
		rooms = val.([]models.RoomSummary)
	}
	return rooms, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) SendMessage(ctx context.Context, in repositories.SendParams) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit, before)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID uuid.UUID) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) EditMessage(ctx context.Context, messageID uuid.UUID, senderID uuid.UUID, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID uuid.UUID, senderID uuid.UUID) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) BulkProfiles(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles []models.Profile
	if val := args.Get(0); val != nil {
		profiles = val.([]models.Profile)
	}
	return profiles, args.Error(1)
}

func (m *ProfileRepositoryMock) UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	args := m.Called(ctx, profile)
	var stored models.Profile
	if val := args.Get(0); val != nil {
		stored = val.(models.Profile)
	}
	return stored, args.Error(1)
}

// ProfileResolverMock stands in for the sender profile cache.
type ProfileResolverMock struct {
	mock.Mock
}

func (m *ProfileResolverMock) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles map[uuid.UUID]models.Profile
	if val := args.Get(0); val != nil {
		profiles = val.(map[uuid.UUID]models.Profile)
	}
	return profiles, args.Error(1)
}

func (m *ProfileResolverMock) Invalidate(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

var _ repositories.GroupRepository = (*GroupRepositoryMock)(nil)
var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ProfileRepository = (*ProfileRepositoryMock)(nil)
var _ interface {
	Resolve(context.Context, []uuid.UUID) (map[uuid.UUID]models.Profile, error)
	Invalidate(context.Context, uuid.UUID) error
} = (*ProfileResolverMock)(nil)
