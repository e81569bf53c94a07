package roomsync

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
)

// RoomListStream is an open stream of the caller's room list changes.
type RoomListStream interface {
	Events() <-chan models.RoomEvent
	Err() error
	Close() error
}

// RoomListFeed opens room list streams.
type RoomListFeed interface {
	OpenRoomList(ctx context.Context) (RoomListStream, error)
}

// RoomLister loads the caller's rooms.
type RoomLister interface {
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
}

var (
	_ RoomListFeed = (*WSFeed)(nil)
	_ RoomLister   = (*Client)(nil)
)

// RoomList keeps the caller's room list current. Any change event triggers a
// reload of the whole list, since summaries carry per-user fields the event
// does not.
type RoomList struct {
	api        RoomLister
	feed       RoomListFeed
	onChange   func([]models.RoomSummary)
	log        *zap.Logger
	newBackOff func() backoff.BackOff

	mu    sync.Mutex
	rooms []models.RoomSummary
}

// RoomListOption configures a RoomList.
type RoomListOption func(*RoomList)

// WithRoomListBackOff sets the policy used between reconnection attempts.
func WithRoomListBackOff(newBackOff func() backoff.BackOff) RoomListOption {
	return func(l *RoomList) { l.newBackOff = newBackOff }
}

// NewRoomList constructs a RoomList. onChange, when set, receives every
// loaded list.
func NewRoomList(api RoomLister, feed RoomListFeed, onChange func([]models.RoomSummary), log *zap.Logger, opts ...RoomListOption) *RoomList {
	l := &RoomList{
		api:        api,
		feed:       feed,
		onChange:   onChange,
		log:        log,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Rooms returns the latest loaded list, most recently active first.
func (l *RoomList) Rooms() []models.RoomSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.RoomSummary(nil), l.rooms...)
}

// Run follows the room list until ctx ends or a failure that retrying cannot
// fix. Each connection subscribes before loading.
func (l *RoomList) Run(ctx context.Context) error {
	b := backoff.WithContext(l.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := l.follow(ctx, b.Reset)
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !apperr.Retryable(err):
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		l.log.Warn("room list stream failed", zap.Error(err), zap.Duration("retry_in", wait))
	})
}

// follow runs one connection. connected is called once the first load
// succeeds. It always returns an error: the stream ending is transient.
func (l *RoomList) follow(ctx context.Context, connected func()) error {
	stream, err := l.feed.OpenRoomList(ctx)
	if err != nil {
		return apperr.Transient(err)
	}
	defer stream.Close()

	if err := l.reload(ctx); err != nil {
		return err
	}
	connected()

	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return l.ended(stream)
			}
			// One reload covers every event already queued behind this one.
			open := drain(events)
			if err := l.reload(ctx); err != nil {
				return err
			}
			if !open {
				return l.ended(stream)
			}
		}
	}
}

func (l *RoomList) ended(stream RoomListStream) error {
	err := stream.Err()
	if err == nil {
		err = errFeedClosed
	}
	return apperr.Transient(err)
}

// drain discards queued events and reports whether the channel is still open.
func drain(events <-chan models.RoomEvent) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (l *RoomList) reload(ctx context.Context) error {
	rooms, err := l.api.ListRooms(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.rooms = rooms
	l.mu.Unlock()
	if l.onChange != nil {
		l.onChange(append([]models.RoomSummary(nil), rooms...))
	}
	return nil
}
