package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
)

const (
	writeWait = 10 * time.Second
	// sendBuffer is how many frames may queue for one connection before it is
	// dropped as a slow consumer.
	sendBuffer = 256
)

var errSlowConsumer = errors.New("send queue full")

// topic is what a connection follows: one room's changes or one user's room list.
type topic struct {
	kind string
	id   uuid.UUID
}

func roomTopic(roomID uuid.UUID) topic { return topic{kind: wsKindRoom, id: roomID} }

func userTopic(userID uuid.UUID) topic { return topic{kind: wsKindRoomList, id: userID} }

// client owns its connection's writes. Frames are queued on send and written
// by a single writer goroutine, so a stalled socket never blocks a broadcast.
type client struct {
	conn  *websocket.Conn
	info  ConnInfo
	topic topic
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// enqueue reports false when the queue is full.
func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) writePump(h *Hub) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(c, err)
				return
			}
		}
	}
}

// Hub maintains the websocket connections subscribed to each room and to
// each user's room list.
type Hub struct {
	topics map[topic]map[*websocket.Conn]*client
	mu     sync.RWMutex
	log    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{topics: make(map[topic]map[*websocket.Conn]*client), log: log}
}

// AddClient registers a websocket connection to a room.
func (h *Hub) AddClient(roomID uuid.UUID, conn *websocket.Conn, info ConnInfo) {
	h.add(roomTopic(roomID), conn, info)
}

// RemoveClient removes a websocket connection from a room.
func (h *Hub) RemoveClient(roomID uuid.UUID, conn *websocket.Conn) {
	h.remove(roomTopic(roomID), conn)
}

// AddUserClient registers a connection following userID's room list.
func (h *Hub) AddUserClient(userID uuid.UUID, conn *websocket.Conn, info ConnInfo) {
	h.add(userTopic(userID), conn, info)
}

// RemoveUserClient removes a room list connection.
func (h *Hub) RemoveUserClient(userID uuid.UUID, conn *websocket.Conn) {
	h.remove(userTopic(userID), conn)
}

func (h *Hub) add(t topic, conn *websocket.Conn, info ConnInfo) {
	c := &client{
		conn:  conn,
		info:  info,
		topic: t,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	if _, ok := h.topics[t]; !ok {
		h.topics[t] = make(map[*websocket.Conn]*client)
	}
	prev := h.topics[t][conn]
	h.topics[t][conn] = c
	h.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	if conn != nil {
		go c.writePump(h)
	}
}

func (h *Hub) remove(t topic, conn *websocket.Conn) {
	h.mu.Lock()
	var c *client
	if conns, ok := h.topics[t]; ok {
		c = conns[conn]
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.topics, t)
		}
	}
	h.mu.Unlock()
	if c != nil {
		c.stop()
	}
}

// BroadcastRoomEvent queues event for every connection of event.RoomID.
func (h *Hub) BroadcastRoomEvent(event models.ChangeEvent) {
	h.publish(roomTopic(event.RoomID), event)
}

// BroadcastUserEvent queues event for every room list connection of userID.
func (h *Hub) BroadcastUserEvent(userID uuid.UUID, event models.RoomEvent) {
	h.publish(userTopic(userID), event)
}

func (h *Hub) publish(t topic, event any) {
	clients := h.clients(t)
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal event", zap.Error(err), zap.String("kind", t.kind))
		return
	}
	for _, c := range clients {
		if !c.enqueue(payload) {
			h.drop(c, errSlowConsumer)
		}
	}
}

// ResyncAll tells every connected client that events may have been missed.
func (h *Hub) ResyncAll() {
	for _, t := range h.topicsOf(wsKindRoom) {
		h.BroadcastRoomEvent(models.ChangeEvent{Op: models.OpResync, RoomID: t.id})
	}
	h.ResyncRoomLists()
}

// ResyncRoomLists asks every room list connection to reload its list.
func (h *Hub) ResyncRoomLists() {
	for _, t := range h.topicsOf(wsKindRoomList) {
		h.BroadcastUserEvent(t.id, models.RoomEvent{Op: models.OpResync})
	}
}

func (h *Hub) topicsOf(kind string) []topic {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]topic, 0, len(h.topics))
	for t := range h.topics {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Ping writes a ping control frame to every connection. Control frames may
// be written concurrently with the writer goroutine.
func (h *Hub) Ping() {
	h.mu.RLock()
	var targets []*client
	for _, conns := range h.topics {
		for _, c := range conns {
			if c.conn != nil {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	deadline := time.Now().Add(writeWait)
	for _, c := range targets {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.drop(c, err)
		}
	}
}

func (h *Hub) clients(t topic) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.topics[t]
	out := make([]*client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// detach removes c itself, not a later registration of the same connection.
// It reports whether c was still registered.
func (h *Hub) detach(c *client) bool {
	h.mu.Lock()
	conns := h.topics[c.topic]
	found := conns[c.conn] == c
	if found {
		delete(conns, c.conn)
		if len(conns) == 0 {
			delete(h.topics, c.topic)
		}
	}
	h.mu.Unlock()
	c.stop()
	return found
}

func (h *Hub) drop(c *client, err error) {
	if !h.detach(c) {
		return
	}
	h.log.Warn("websocket write error", zap.Error(err), zap.String("kind", c.topic.kind),
		zap.String("resource_id", c.topic.id.String()), zap.String("conn_id", c.info.ConnID))
	if c.conn != nil {
		c.conn.Close()
	}
	publishLifecycle(context.Background(), "ws_error", c.topic, c.info, err.Error())
	observability.IncWSEvent(c.topic.kind, "ws_error")
}

// RunPinger pings all connections every interval until ctx is done.
func (h *Hub) RunPinger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Ping()
		}
	}
}
