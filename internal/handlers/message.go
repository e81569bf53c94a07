package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/services"
)

// MessageService is the room message surface.
type MessageService interface {
	Load(ctx context.Context, caller, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.MessageWithSender, error)
	Send(ctx context.Context, caller, roomID uuid.UUID, in models.SendRequest) (models.MessageWithSender, error)
	Edit(ctx context.Context, caller, messageID uuid.UUID, content string) (models.MessageWithSender, error)
	Delete(ctx context.Context, caller, messageID uuid.UUID) error
}

// ProfileService updates display identities.
type ProfileService interface {
	Update(ctx context.Context, caller uuid.UUID, displayName, email string) (models.Profile, error)
	Lookup(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)
}

var (
	_ MessageService = (*services.Messages)(nil)
	_ ProfileService = (*services.Profiles)(nil)
)

// MessageHandler serves message and profile endpoints.
type MessageHandler struct {
	messages MessageService
	profiles ProfileService
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(messages MessageService, profiles ProfileService) *MessageHandler {
	return &MessageHandler{messages: messages, profiles: profiles}
}

// GetMessages handles GET /rooms/:room_id/messages?limit=&before=&before_id=.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	roomID, ok := uuidParam(c, "room_id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, apperr.Validation("invalid limit"))
			return
		}
		limit = parsed
	}
	var before *models.Cursor
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(c, apperr.Validation("invalid before timestamp"))
			return
		}
		before = &models.Cursor{CreatedAt: parsed}
		if rawID := c.Query("before_id"); rawID != "" {
			id, err := uuid.Parse(rawID)
			if err != nil {
				respondError(c, apperr.Validation("invalid before_id"))
				return
			}
			before.ID = id
		}
	} else if c.Query("before_id") != "" {
		respondError(c, apperr.Validation("before_id requires before"))
		return
	}

	msgs, err := h.messages.Load(c.Request.Context(), userIDFromContext(c), roomID, limit, before)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage handles POST /rooms/:room_id/messages.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	roomID, ok := uuidParam(c, "room_id")
	if !ok {
		return
	}
	var req models.SendRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), userIDFromContext(c), roomID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// EditMessage handles PATCH /messages/:message_id.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := uuidParam(c, "message_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), userIDFromContext(c), messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage handles DELETE /messages/:message_id.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := uuidParam(c, "message_id")
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), userIDFromContext(c), messageID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateProfile handles PUT /profile.
func (h *MessageHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if !bindJSON(c, &req) {
		return
	}
	profile, err := h.profiles.Update(c.Request.Context(), userIDFromContext(c), req.DisplayName, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GetProfiles handles GET /profiles?id=...&id=....
func (h *MessageHandler) GetProfiles(c *gin.Context) {
	raw := c.QueryArray("id")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(c, apperr.Validation("invalid id"))
			return
		}
		ids = append(ids, id)
	}
	out, err := h.profiles.Lookup(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}
