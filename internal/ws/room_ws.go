package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/middleware"
	"groupchat-service/internal/observability"
)

const pongWait = 60 * time.Second

// RoomAccess decides whether a user may follow a room's changes.
type RoomAccess interface {
	CanAccess(ctx context.Context, roomID, userID uuid.UUID) error
}

// RoomWebSocketHandler streams room change feeds and room list updates to
// websocket clients.
type RoomWebSocketHandler struct {
	hub       *Hub
	access    RoomAccess
	validator middleware.TokenValidator
	log       *zap.Logger
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, access RoomAccess, validator middleware.TokenValidator, log *zap.Logger) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{hub: hub, access: access, validator: validator, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks room access, upgrades the connection and
// registers it with the hub. Browsers may pass the token as ?token=.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id", "code": apperr.CodeValidation})
		return
	}

	ctx, span := otel.Tracer("groupchat-service/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	if err := h.access.CanAccess(ctx, roomID, userID); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err), "code": apperr.Code(err)})
		return
	}

	h.serve(c, roomTopic(roomID), userID)
}

// HandleRoomList streams the caller's room list changes: rooms created or
// bumped, and RESYNC when the list must be reloaded.
func (h *RoomWebSocketHandler) HandleRoomList(c *gin.Context) {
	ctx, span := otel.Tracer("groupchat-service/ws").Start(c.Request.Context(), "ws.handshake.room_list",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := h.authenticate(c)
	if !ok {
		return
	}
	h.serve(c, userTopic(userID), userID)
}

func (h *RoomWebSocketHandler) authenticate(c *gin.Context) (uuid.UUID, bool) {
	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.validator.ValidateToken(c.Request.Context(), token)
	if token == "" || err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return uuid.Nil, false
	}
	return userID, true
}

// serve upgrades the connection and keeps it registered under t until the
// peer goes away.
func (h *RoomWebSocketHandler) serve(c *gin.Context, t topic, userID uuid.UUID) {
	ctx := c.Request.Context()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	h.hub.add(t, conn, info)
	h.log.Debug("websocket connected", zap.String("kind", t.kind), zap.String("resource_id", t.id.String()), zap.String("conn_id", info.ConnID))

	observability.IncWSActive(t.kind)
	observability.IncWSEvent(t.kind, "ws_connect")
	publishLifecycle(ctx, "ws_connect", t, info, "")

	// The read loop only services control frames; clients never send data.
	go func() {
		var closeReason string
		defer func() {
			h.hub.remove(t, conn)
			observability.DecWSActive(t.kind)
			observability.IncWSEvent(t.kind, "ws_disconnect")
			publishLifecycle(context.Background(), "ws_disconnect", t, info, closeReason)
			conn.Close()
		}()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent(t.kind, "ws_error")
					publishLifecycle(context.Background(), "ws_error", t, info, closeReason)
				}
				return
			}
		}
	}()
}
