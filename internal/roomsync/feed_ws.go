package roomsync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"groupchat-service/internal/models"
)

const (
	streamBuffer = 64
	closeTimeout = time.Second
)

// WSFeed opens room streams and the caller's room list stream over the
// service's /ws/rooms endpoints.
type WSFeed struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	log     *zap.Logger
}

// NewWSFeed constructs a WSFeed. baseURL is the service's http(s) base URL.
func NewWSFeed(baseURL, token string, log *zap.Logger) *WSFeed {
	return &WSFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		dialer:  websocket.DefaultDialer,
		log:     log,
	}
}

func (f *WSFeed) endpoint(path string) (string, error) {
	u, err := url.Parse(f.baseURL + path)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// Open dials the room's change stream. A rejected handshake is mapped to the
// same errors as the HTTP API.
func (f *WSFeed) Open(ctx context.Context, roomID uuid.UUID) (Stream, error) {
	conn, err := f.dial(ctx, "/ws/rooms/"+roomID.String())
	if err != nil {
		return nil, err
	}
	return startStream[models.ChangeEvent](conn, f.log.With(zap.String("room_id", roomID.String()))), nil
}

// OpenRoomList dials the caller's room list stream.
func (f *WSFeed) OpenRoomList(ctx context.Context) (RoomListStream, error) {
	conn, err := f.dial(ctx, "/ws/rooms")
	if err != nil {
		return nil, err
	}
	return startStream[models.RoomEvent](conn, f.log.With(zap.String("stream", "room_list"))), nil
}

func (f *WSFeed) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	endpoint, err := f.endpoint(path)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.token)

	conn, resp, err := f.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, responseError(resp)
		}
		return nil, err
	}
	return conn, nil
}

func startStream[T any](conn *websocket.Conn, log *zap.Logger) *wsStream[T] {
	s := &wsStream[T]{
		conn:   conn,
		events: make(chan T, streamBuffer),
		done:   make(chan struct{}),
		log:    log,
	}
	go s.read()
	return s
}

// wsStream decodes one JSON event per text frame.
type wsStream[T any] struct {
	conn   *websocket.Conn
	events chan T
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
	log    *zap.Logger
}

func (s *wsStream[T]) Events() <-chan T {
	return s.events
}

func (s *wsStream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream[T]) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeTimeout))
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream[T]) read() {
	defer close(s.events)
	for {
		var ev T
		if err := s.conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
