package roomsync

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
)

var errFeedClosed = errors.New("change feed closed")

// Stream is one open per-room event stream. Events are delivered in commit
// order; the channel is closed when the stream ends.
type Stream interface {
	Events() <-chan models.ChangeEvent
	// Err reports why the stream ended. It is only meaningful after Events
	// is closed.
	Err() error
	Close() error
}

// Feed opens event streams for rooms.
type Feed interface {
	Open(ctx context.Context, roomID uuid.UUID) (Stream, error)
}

// Handlers receive a subscription's events. Nil handlers are skipped. All
// handlers run on the subscription's dispatcher goroutine, one at a time.
type Handlers struct {
	OnInsert func(models.ChangeEvent)
	OnUpdate func(models.ChangeEvent)
	OnDelete func(models.ChangeEvent)
	// OnResync reports that events may have been lost.
	OnResync func()
	// OnError reports that the stream failed. No handler runs after it.
	OnError func(error)
}

// Unsubscribe stops delivery and releases the stream. It is idempotent and
// returns once no handler is running. It must not be called from a handler.
type Unsubscribe func()

// Channel subscribes to room change streams.
type Channel struct {
	feed Feed
	log  *zap.Logger
}

// NewChannel constructs a Channel over feed.
func NewChannel(feed Feed, log *zap.Logger) *Channel {
	return &Channel{feed: feed, log: log}
}

// Subscribe opens a stream for roomID and dispatches its events to h.
func (c *Channel) Subscribe(ctx context.Context, roomID uuid.UUID, h Handlers) (Unsubscribe, error) {
	stream, err := c.feed.Open(ctx, roomID)
	if err != nil {
		return nil, apperr.Transient(err)
	}

	sub := &subscription{
		roomID:   roomID,
		stream:   stream,
		handlers: h,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      c.log.With(zap.String("room_id", roomID.String())),
	}
	go sub.dispatch()
	return sub.unsubscribe, nil
}

type subscription struct {
	roomID   uuid.UUID
	stream   Stream
	handlers Handlers
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	log      *zap.Logger
}

func (s *subscription) dispatch() {
	defer close(s.done)
	events := s.stream.Events()
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-events:
			if !ok {
				s.ended()
				return
			}
			if s.stopped() {
				return
			}
			s.deliver(ev)
		}
	}
}

func (s *subscription) deliver(ev models.ChangeEvent) {
	if ev.RoomID != s.roomID {
		s.log.Debug("dropping event for another room", zap.String("event_room_id", ev.RoomID.String()))
		return
	}
	switch ev.Op {
	case models.OpInsert:
		call(s.handlers.OnInsert, ev)
	case models.OpUpdate:
		call(s.handlers.OnUpdate, ev)
	case models.OpDelete:
		call(s.handlers.OnDelete, ev)
	case models.OpResync:
		if s.handlers.OnResync != nil {
			s.handlers.OnResync()
		}
	default:
		s.log.Warn("unknown change op", zap.String("op", string(ev.Op)))
	}
}

func (s *subscription) ended() {
	if s.stopped() {
		return
	}
	err := s.stream.Err()
	if err == nil {
		err = errFeedClosed
	}
	s.log.Warn("room feed ended", zap.Error(err))
	if s.handlers.OnError != nil {
		s.handlers.OnError(apperr.Transient(err))
	}
}

func (s *subscription) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		close(s.stop)
		if err := s.stream.Close(); err != nil {
			s.log.Debug("closing room feed", zap.Error(err))
		}
	})
	<-s.done
}

func call(fn func(models.ChangeEvent), ev models.ChangeEvent) {
	if fn != nil {
		fn(ev)
	}
}
