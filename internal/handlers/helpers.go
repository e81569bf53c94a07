package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/middleware"
	"groupchat-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	c.Request = c.Request.WithContext(telemetry.WithRequestID(c.Request.Context(), requestID))
	return requestID
}

func userIDFromContext(c *gin.Context) uuid.UUID {
	if val, ok := c.Get(middleware.UserIDKey); ok {
		if userID, ok := val.(uuid.UUID); ok {
			return userID
		}
	}
	return uuid.Nil
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level, text string) {
	if audit == nil {
		return
	}
	requestIDFromContext(c)
	userID := userIDFromContext(c)
	audit.Emit(c.Request.Context(), level, text, &userID)
}

// respondError writes err as {"error", "code"} with the status of its kind.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err), "code": apperr.Code(err)})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, apperr.Validation("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, apperr.Validation("%v", err))
		return false
	}
	return true
}
