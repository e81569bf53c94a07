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

// InvitationService is the invitation lifecycle surface.
type InvitationService interface {
	Preview(ctx context.Context, token string) (models.InvitationPreview, error)
	Join(ctx context.Context, token string, user uuid.UUID) (models.JoinResult, error)
	SetEnabled(ctx context.Context, caller, groupID uuid.UUID, enabled bool) error
	Regenerate(ctx context.Context, caller, groupID uuid.UUID) (models.Invitation, error)
}

var _ InvitationService = (*services.Invitations)(nil)

// InvitationHandler serves invitation endpoints.
type InvitationHandler struct {
	invitations InvitationService
	audit       *telemetry.AuditEmitter
}

// NewInvitationHandler constructs an InvitationHandler.
func NewInvitationHandler(invitations InvitationService, audit *telemetry.AuditEmitter) *InvitationHandler {
	return &InvitationHandler{invitations: invitations, audit: audit}
}

// SetEnabled handles PUT /groups/:group_id/invitation.
func (h *InvitationHandler) SetEnabled(c *gin.Context) {
	groupID, ok := uuidParam(c, "group_id")
	if !ok {
		return
	}
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	if err := h.invitations.SetEnabled(c.Request.Context(), userIDFromContext(c), groupID, *req.Enabled); err != nil {
		emitAudit(c, h.audit, "ERROR", "invitation toggle rejected")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "invitation_enabled": *req.Enabled})
}

// Regenerate handles POST /groups/:group_id/invitation/regenerate.
func (h *InvitationHandler) Regenerate(c *gin.Context) {
	groupID, ok := uuidParam(c, "group_id")
	if !ok {
		return
	}
	inv, err := h.invitations.Regenerate(c.Request.Context(), userIDFromContext(c), groupID)
	if err != nil {
		emitAudit(c, h.audit, "ERROR", "invitation regenerate rejected")
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// Preview handles GET /invitations/:token.
func (h *InvitationHandler) Preview(c *gin.Context) {
	preview, err := h.invitations.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// Accept handles POST /invitations/:token/accept.
func (h *InvitationHandler) Accept(c *gin.Context) {
	result, err := h.invitations.Join(c.Request.Context(), c.Param("token"), userIDFromContext(c))
	if err != nil {
		emitAudit(c, h.audit, "ERROR", "invitation join rejected")
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if result.Joined {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}
