package roomsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
)

type fakeRoomListStream struct {
	events chan models.RoomEvent
	mu     sync.Mutex
	err    error
}

func (s *fakeRoomListStream) Events() <-chan models.RoomEvent { return s.events }

func (s *fakeRoomListStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeRoomListStream) Close() error { return nil }

func (s *fakeRoomListStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

type fakeRoomListFeed struct {
	mu      sync.Mutex
	streams []*fakeRoomListStream
	openErr error
}

func (f *fakeRoomListFeed) OpenRoomList(context.Context) (RoomListStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeRoomListStream{events: make(chan models.RoomEvent, 8)}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeRoomListFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeRoomListFeed) latest() *fakeRoomListStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

type fakeRoomLister struct {
	mu    sync.Mutex
	rooms []models.RoomSummary
	calls int
	// streamsAtLoad records how many streams were open at each load.
	streamsAtLoad []int
	feed          *fakeRoomListFeed
}

func (a *fakeRoomLister) ListRooms(context.Context) ([]models.RoomSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.streamsAtLoad = append(a.streamsAtLoad, a.feed.count())
	return append([]models.RoomSummary(nil), a.rooms...), nil
}

func (a *fakeRoomLister) addRoom() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.New()
	a.rooms = append([]models.RoomSummary{{ChatRoom: models.ChatRoom{ID: id, Type: models.RoomDirect}}}, a.rooms...)
	return id
}

func (a *fakeRoomLister) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestRoomListReloadsOnChangeAndReconnects(t *testing.T) {
	feed := &fakeRoomListFeed{}
	api := &fakeRoomLister{feed: feed}
	api.addRoom()

	var mu sync.Mutex
	var seen [][]models.RoomSummary
	list := NewRoomList(api, feed, func(rooms []models.RoomSummary) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, rooms)
	}, zap.NewNop(), WithRoomListBackOff(zeroBackOff))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- list.Run(ctx) }()

	require.Eventually(t, func() bool { return api.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Len(t, list.Rooms(), 1)

	created := api.addRoom()
	feed.latest().events <- models.RoomEvent{Op: models.OpInsert, RoomID: created}
	require.Eventually(t, func() bool {
		rooms := list.Rooms()
		return len(rooms) == 2 && rooms[0].ID == created
	}, time.Second, 5*time.Millisecond)

	feed.latest().fail(errors.New("connection reset"))
	require.Eventually(t, func() bool { return feed.count() == 2 && api.callCount() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	api.mu.Lock()
	require.Equal(t, []int{1, 1, 2}, api.streamsAtLoad)
	api.mu.Unlock()
	mu.Lock()
	require.Len(t, seen, 3)
	mu.Unlock()
}

func TestRoomListCoalescesQueuedEvents(t *testing.T) {
	feed := &fakeRoomListFeed{}
	api := &fakeRoomLister{feed: feed}
	list := NewRoomList(api, feed, nil, zap.NewNop(), WithRoomListBackOff(zeroBackOff))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go list.Run(ctx) //nolint:errcheck
	require.Eventually(t, func() bool { return api.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Queue everything before the watcher can observe the first event.
	stream := feed.latest()
	api.mu.Lock()
	for i := 0; i < 5; i++ {
		stream.events <- models.RoomEvent{Op: models.OpUpdate, RoomID: uuid.New()}
	}
	api.mu.Unlock()

	require.Eventually(t, func() bool { return len(stream.events) == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return api.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	require.Less(t, api.callCount(), 6)
}

func TestRoomListStopsOnAuthorizationFailure(t *testing.T) {
	feed := &fakeRoomListFeed{openErr: apperr.ErrNotAuthorized}
	api := &fakeRoomLister{feed: feed}
	list := NewRoomList(api, feed, nil, zap.NewNop(), WithRoomListBackOff(zeroBackOff))

	err := list.Run(context.Background())
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)
	require.Zero(t, api.callCount())
}
