package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"groupchat-service/internal/models"
	"groupchat-service/internal/services"
	"groupchat-service/internal/telemetry"
)

// GroupService is the group record surface used by the handlers.
type GroupService interface {
	Create(ctx context.Context, owner uuid.UUID, name string) (models.Group, error)
	List(ctx context.Context, caller uuid.UUID) ([]models.Group, error)
	Delete(ctx context.Context, caller, groupID uuid.UUID) error
	Members(ctx context.Context, caller, groupID uuid.UUID) ([]models.MemberView, error)
}

// RoomResolver maps callers to canonical rooms.
type RoomResolver interface {
	ResolveGroupRoom(ctx context.Context, caller, groupID uuid.UUID) (uuid.UUID, error)
	ResolveDirectRoom(ctx context.Context, caller, peer, groupID uuid.UUID) (uuid.UUID, error)
	ListRooms(ctx context.Context, caller uuid.UUID) ([]models.RoomSummary, error)
}

var (
	_ GroupService = (*services.Groups)(nil)
	_ RoomResolver = (*services.Resolver)(nil)
)

// GroupHandler manages group and room resolution endpoints.
type GroupHandler struct {
	groups   GroupService
	resolver RoomResolver
	audit    *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groups GroupService, resolver RoomResolver, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{groups: groups, resolver: resolver, audit: audit}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if !bindJSON(c, &req) {
		emitAudit(c, h.audit, "ERROR", "invalid request payload")
		return
	}

	group, err := h.groups.Create(c.Request.Context(), userIDFromContext(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, "INFO", "Group created")
	c.JSON(http.StatusCreated, group)
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groups.List(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// DeleteGroup handles DELETE /groups/:group_id.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID, ok := uuidParam(c, "group_id")
	if !ok {
		return
	}
	if err := h.groups.Delete(c.Request.Context(), userIDFromContext(c), groupID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMembers handles GET /groups/:group_id/members.
func (h *GroupHandler) ListMembers(c *gin.Context) {
	groupID, ok := uuidParam(c, "group_id")
	if !ok {
		return
	}
	members, err := h.groups.Members(c.Request.Context(), userIDFromContext(c), groupID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// ResolveGroupRoom handles POST /groups/:group_id/room.
func (h *GroupHandler) ResolveGroupRoom(c *gin.Context) {
	groupID, ok := uuidParam(c, "group_id")
	if !ok {
		return
	}
	roomID, err := h.resolver.ResolveGroupRoom(c.Request.Context(), userIDFromContext(c), groupID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// ResolveDirectRoom handles POST /groups/:group_id/direct.
func (h *GroupHandler) ResolveDirectRoom(c *gin.Context) {
	groupID, ok := uuidParam(c, "group_id")
	if !ok {
		return
	}
	var req struct {
		PeerID uuid.UUID `json:"peer_id" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	roomID, err := h.resolver.ResolveDirectRoom(c.Request.Context(), userIDFromContext(c), req.PeerID, groupID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// ListRooms handles GET /rooms.
func (h *GroupHandler) ListRooms(c *gin.Context) {
	rooms, err := h.resolver.ListRooms(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}
