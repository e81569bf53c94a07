package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

// memStore keeps groups and rooms in memory with the uniqueness and locking
// behaviour of the SQL procedures: one mutex stands in for the row locks and
// unique indexes.
type memStore struct {
	mu          sync.Mutex
	groups      map[uuid.UUID]*models.Group
	members     map[uuid.UUID]map[uuid.UUID]models.Role
	rooms       map[uuid.UUID]models.ChatRoom
	roomMembers map[uuid.UUID]map[uuid.UUID]bool

	// beforeJoin runs between the token lookup and the privileged insert.
	beforeJoin func()
}

func newMemStore() *memStore {
	return &memStore{
		groups:      map[uuid.UUID]*models.Group{},
		members:     map[uuid.UUID]map[uuid.UUID]models.Role{},
		rooms:       map[uuid.UUID]models.ChatRoom{},
		roomMembers: map[uuid.UUID]map[uuid.UUID]bool{},
	}
}

func (s *memStore) seedGroup(owner uuid.UUID, token string, members ...uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.groups[id] = &models.Group{ID: id, Name: "team", OwnerID: owner, InvitationToken: token, InvitationEnabled: true, CreatedAt: time.Now()}
	s.members[id] = map[uuid.UUID]models.Role{owner: models.RoleOwner}
	for _, m := range members {
		s.members[id][m] = models.RoleMember
	}
	return id
}

func (s *memStore) setRole(groupID, userID uuid.UUID, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID][userID] = role
}

func (s *memStore) memberCount(groupID, userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[groupID][userID]; ok {
		return 1
	}
	return 0
}

func (s *memStore) roomCount(groupID uuid.UUID, roomType models.RoomType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rooms {
		if r.GroupID == groupID && r.Type == roomType {
			n++
		}
	}
	return n
}

func (s *memStore) CreateGroup(ctx context.Context, ownerID uuid.UUID, name string, token string) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.InvitationToken == token {
			return models.Group{}, repositories.ErrTokenConflict
		}
	}
	g := &models.Group{ID: uuid.New(), Name: name, OwnerID: ownerID, InvitationToken: token, InvitationEnabled: true, CreatedAt: time.Now()}
	s.groups[g.ID] = g
	s.members[g.ID] = map[uuid.UUID]models.Role{ownerID: models.RoleOwner}
	return *g, nil
}

func (s *memStore) GetGroup(ctx context.Context, groupID uuid.UUID) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	return *g, nil
}

func (s *memStore) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Group
	for id, g := range s.groups {
		if _, ok := s.members[id][userID]; ok {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (s *memStore) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return repositories.ErrGroupNotFound
	}
	delete(s.groups, groupID)
	delete(s.members, groupID)
	for id, r := range s.rooms {
		if r.GroupID == groupID {
			delete(s.rooms, id)
			delete(s.roomMembers, id)
		}
	}
	return nil
}

func (s *memStore) MemberRole(ctx context.Context, groupID uuid.UUID, userID uuid.UUID) (models.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.members[groupID][userID]
	return role, ok, nil
}

func (s *memStore) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.MemberView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MemberView
	for userID, role := range s.members[groupID] {
		out = append(out, models.MemberView{Membership: models.Membership{GroupID: groupID, UserID: userID, Role: role}})
	}
	return out, nil
}

func (s *memStore) GroupByToken(ctx context.Context, token string) (models.InvitationPreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.InvitationToken == token {
			return models.InvitationPreview{GroupID: g.ID, GroupName: g.Name, InvitationEnabled: g.InvitationEnabled}, nil
		}
	}
	return models.InvitationPreview{}, repositories.ErrTokenNotFound
}

func (s *memStore) SetInvitationEnabled(ctx context.Context, groupID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return repositories.ErrGroupNotFound
	}
	g.InvitationEnabled = enabled
	return nil
}

func (s *memStore) ReplaceInvitationToken(ctx context.Context, groupID uuid.UUID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.InvitationToken == token {
			return repositories.ErrTokenConflict
		}
	}
	g, ok := s.groups[groupID]
	if !ok {
		return repositories.ErrGroupNotFound
	}
	g.InvitationToken = token
	return nil
}

func (s *memStore) JoinViaToken(ctx context.Context, token string, groupID uuid.UUID, userID uuid.UUID) (bool, error) {
	if s.beforeJoin != nil {
		s.beforeJoin()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok || g.InvitationToken != token {
		return false, repositories.ErrTokenNotFound
	}
	if !g.InvitationEnabled {
		return false, repositories.ErrInvitationsDisabled
	}
	if _, ok := s.members[groupID][userID]; ok {
		return false, nil
	}
	s.members[groupID][userID] = models.RoleMember
	return true, nil
}

func (s *memStore) GetOrCreateGroupRoom(ctx context.Context, groupID uuid.UUID, creatorID uuid.UUID) (models.ChatRoom, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return models.ChatRoom{}, false, repositories.ErrGroupNotFound
	}
	for _, r := range s.rooms {
		if r.GroupID == groupID && r.Type == models.RoomGroup {
			return r, false, nil
		}
	}
	name := g.Name
	room := models.ChatRoom{ID: uuid.New(), Type: models.RoomGroup, Name: &name, GroupID: groupID, CreatedBy: creatorID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.rooms[room.ID] = room
	return room, true, nil
}

func (s *memStore) GetOrCreateDirectRoom(ctx context.Context, groupID uuid.UUID, userA uuid.UUID, userB uuid.UUID) (models.ChatRoom, bool, error) {
	if userA == userB {
		return models.ChatRoom{}, false, repositories.ErrSelfDirect
	}
	low, high := models.DirectPair(userA, userB)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.GroupID == groupID && r.Type == models.RoomDirect && *r.UserLow == low && *r.UserHigh == high {
			return r, false, nil
		}
	}
	room := models.ChatRoom{ID: uuid.New(), Type: models.RoomDirect, GroupID: groupID, UserLow: &low, UserHigh: &high, CreatedBy: userA, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.rooms[room.ID] = room
	s.roomMembers[room.ID] = map[uuid.UUID]bool{low: true, high: true}
	return room, true, nil
}

func (s *memStore) GetRoom(ctx context.Context, roomID uuid.UUID) (models.ChatRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return models.ChatRoom{}, repositories.ErrRoomNotFound
	}
	return r, nil
}

func (s *memStore) CanAccess(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	if r.Type == models.RoomGroup {
		_, member := s.members[r.GroupID][userID]
		return member, nil
	}
	return s.roomMembers[roomID][userID], nil
}

func (s *memStore) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.RoomSummary, error) {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var out []models.RoomSummary
	for _, id := range ids {
		ok, _ := s.CanAccess(context.Background(), id, userID)
		if ok {
			room, _ := s.GetRoom(context.Background(), id)
			out = append(out, models.RoomSummary{ChatRoom: room})
		}
	}
	return out, nil
}

var _ repositories.GroupRepository = (*memStore)(nil)
var _ repositories.RoomRepository = (*memStore)(nil)
