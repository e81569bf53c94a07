// Package feed turns Postgres change notifications into room change events
// and per-user room list events for websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"groupchat-service/internal/db"
	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
	"groupchat-service/internal/profiles"
	"groupchat-service/internal/repositories"
)

// Source is a LISTEN/NOTIFY connection. *pq.Listener satisfies it. A nil
// notification signals that the connection was re-established and
// notifications may have been lost.
type Source interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Broadcaster fans events out to the subscribers of a room or of a user's
// room list.
type Broadcaster interface {
	BroadcastRoomEvent(event models.ChangeEvent)
	BroadcastUserEvent(userID uuid.UUID, event models.RoomEvent)
	ResyncRoomLists()
	ResyncAll()
}

// RoomDirectory resolves a room and the users who can see it.
type RoomDirectory interface {
	GetRoom(ctx context.Context, roomID uuid.UUID) (models.ChatRoom, error)
	RoomAudience(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

var _ RoomDirectory = (*repositories.RoomRepo)(nil)

type notification struct {
	Op     models.ChangeOp `json:"op"`
	RoomID uuid.UUID       `json:"room_id"`
	ID     uuid.UUID       `json:"id"`
}

// roomListNotification is either a room row change (RoomID set) or a group
// membership change (UserID set).
type roomListNotification struct {
	Op     models.ChangeOp `json:"op"`
	RoomID uuid.UUID       `json:"room_id"`
	UserID uuid.UUID       `json:"user_id"`
}

// Listener dispatches notifications serially, so subscribers observe changes
// in commit order.
type Listener struct {
	source       Source
	messages     repositories.MessageRepository
	rooms        RoomDirectory
	profiles     profiles.Resolver
	out          Broadcaster
	log          *zap.Logger
	pingInterval time.Duration
}

// NewListener constructs a Listener.
func NewListener(source Source, messages repositories.MessageRepository, rooms RoomDirectory, resolver profiles.Resolver, out Broadcaster, log *zap.Logger) *Listener {
	return &Listener{
		source:       source,
		messages:     messages,
		rooms:        rooms,
		profiles:     resolver,
		out:          out,
		log:          log,
		pingInterval: 90 * time.Second,
	}
}

// NewPQSource opens a reconnecting pq listener on dsn.
func NewPQSource(dsn string, log *zap.Logger) *pq.Listener {
	return pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info("change feed connected")
		case pq.ListenerEventDisconnected:
			log.Warn("change feed disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			observability.IncFeedReconnect()
			log.Info("change feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("change feed connection attempt failed", zap.Error(err))
		}
	})
}

// Run listens until ctx is done or the source closes.
func (l *Listener) Run(ctx context.Context) error {
	for _, channel := range []string{db.ChangeChannel, db.RoomListChannel} {
		if err := l.source.Listen(channel); err != nil {
			return err
		}
		l.log.Info("change feed listening", zap.String("channel", channel))
	}

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	notifications := l.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return errors.New("change feed closed")
			}
			if n == nil {
				l.log.Warn("change feed gap, asking subscribers to resync")
				l.out.ResyncAll()
				continue
			}
			if n.Channel == db.RoomListChannel {
				l.handleRoomList(ctx, n.Extra)
				continue
			}
			l.handle(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := l.source.Ping(); err != nil {
					l.log.Warn("change feed ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.log.Warn("malformed change notification", zap.Error(err), zap.String("payload", payload))
		return
	}
	observability.IncFeedNotification(string(n.Op))

	switch n.Op {
	case models.OpDelete:
		l.out.BroadcastRoomEvent(models.ChangeEvent{Op: models.OpDelete, RoomID: n.RoomID, MessageID: n.ID})
	case models.OpInsert, models.OpUpdate:
		event, ok := l.enrich(ctx, n)
		if ok {
			l.out.BroadcastRoomEvent(event)
		}
	default:
		l.log.Warn("unknown change op", zap.String("op", string(n.Op)))
	}
}

// enrich loads the committed row and its sender. A row that no longer exists
// is skipped since its DELETE notification follows. Any other failure turns
// into a RESYNC for the room so subscribers re-fetch.
func (l *Listener) enrich(ctx context.Context, n notification) (models.ChangeEvent, bool) {
	msg, err := l.messages.GetMessage(ctx, n.ID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.ChangeEvent{}, false
	}
	if err != nil {
		l.log.Warn("change feed row fetch failed", zap.Error(err), zap.String("message_id", n.ID.String()))
		return models.ChangeEvent{Op: models.OpResync, RoomID: n.RoomID}, true
	}

	event := models.ChangeEvent{Op: n.Op, RoomID: msg.RoomID, MessageID: msg.ID, Message: &msg}
	senders, err := l.profiles.Resolve(ctx, []uuid.UUID{msg.SenderID})
	if err != nil {
		l.log.Warn("sender resolution failed", zap.Error(err))
		return event, true
	}
	if sender, ok := senders[msg.SenderID]; ok {
		event.Sender = &sender
	}
	return event, true
}

// handleRoomList forwards a room row change to everyone who can see the room.
// When the audience cannot be resolved every room list is asked to reload.
func (l *Listener) handleRoomList(ctx context.Context, payload string) {
	var n roomListNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.log.Warn("malformed room list notification", zap.Error(err), zap.String("payload", payload))
		return
	}
	observability.IncFeedNotification("ROOM_" + string(n.Op))

	if n.UserID != uuid.Nil {
		// Joining or leaving a group changes which rooms the user sees.
		l.out.BroadcastUserEvent(n.UserID, models.RoomEvent{Op: models.OpResync})
		return
	}

	room, err := l.rooms.GetRoom(ctx, n.RoomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		return
	}
	if err != nil {
		l.log.Warn("room list row fetch failed", zap.Error(err), zap.String("room_id", n.RoomID.String()))
		l.out.ResyncRoomLists()
		return
	}
	audience, err := l.rooms.RoomAudience(ctx, n.RoomID)
	if err != nil {
		l.log.Warn("room audience lookup failed", zap.Error(err), zap.String("room_id", n.RoomID.String()))
		l.out.ResyncRoomLists()
		return
	}
	event := models.RoomEvent{Op: n.Op, RoomID: room.ID, Room: &room}
	for _, userID := range audience {
		l.out.BroadcastUserEvent(userID, event)
	}
}
