package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
	"groupchat-service/internal/repositories"
)

// Resolver maps (caller, group) and (caller, peer, group) to canonical room ids.
type Resolver struct {
	groups repositories.GroupRepository
	rooms  repositories.RoomRepository
	log    *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(groups repositories.GroupRepository, rooms repositories.RoomRepository, log *zap.Logger) *Resolver {
	return &Resolver{groups: groups, rooms: rooms, log: log}
}

// ResolveGroupRoom returns the group's room, creating it on first access.
// Concurrent calls for the same group converge on one room.
func (r *Resolver) ResolveGroupRoom(ctx context.Context, caller, groupID uuid.UUID) (uuid.UUID, error) {
	if err := requireIDs(caller, groupID); err != nil {
		return uuid.Nil, err
	}
	if _, err := roleOf(ctx, r.groups, groupID, caller); err != nil {
		return uuid.Nil, err
	}

	room, created, err := r.rooms.GetOrCreateGroupRoom(ctx, groupID, caller)
	if err != nil {
		return uuid.Nil, storeErr(err)
	}
	observability.IncRoomResolution(string(models.RoomGroup), created)
	if created {
		r.log.Info("group room created", zap.String("room_id", room.ID.String()), zap.String("group_id", groupID.String()))
	}
	return room.ID, nil
}

// ResolveDirectRoom returns the direct room of caller and peer within the
// group. Both must be group members; the room is keyed by the unordered pair.
func (r *Resolver) ResolveDirectRoom(ctx context.Context, caller, peer, groupID uuid.UUID) (uuid.UUID, error) {
	if err := requireIDs(caller, peer, groupID); err != nil {
		return uuid.Nil, err
	}
	if caller == peer {
		return uuid.Nil, apperr.Validation("cannot open a direct room with yourself")
	}
	if _, err := roleOf(ctx, r.groups, groupID, caller); err != nil {
		return uuid.Nil, err
	}
	_, ok, err := r.groups.MemberRole(ctx, groupID, peer)
	if err != nil {
		return uuid.Nil, apperr.Transient(err)
	}
	if !ok {
		return uuid.Nil, apperr.ErrInvalidTarget
	}

	room, created, err := r.rooms.GetOrCreateDirectRoom(ctx, groupID, caller, peer)
	if err != nil {
		return uuid.Nil, storeErr(err)
	}
	observability.IncRoomResolution(string(models.RoomDirect), created)
	if created {
		r.log.Info("direct room created", zap.String("room_id", room.ID.String()), zap.String("group_id", groupID.String()))
	}
	return room.ID, nil
}

// ListRooms returns the rooms visible to caller, most recently active first.
func (r *Resolver) ListRooms(ctx context.Context, caller uuid.UUID) ([]models.RoomSummary, error) {
	if err := requireIDs(caller); err != nil {
		return nil, err
	}
	rooms, err := r.rooms.ListRoomsForUser(ctx, caller)
	if err != nil {
		return nil, storeErr(err)
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	return rooms, nil
}
