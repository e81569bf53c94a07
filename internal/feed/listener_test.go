package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"groupchat-service/internal/db"
	"groupchat-service/internal/mocks"
	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

type fakeSource struct {
	ch       chan *pq.Notification
	listened []string
}

func (s *fakeSource) Listen(channel string) error {
	s.listened = append(s.listened, channel)
	return nil
}

func (s *fakeSource) NotificationChannel() <-chan *pq.Notification { return s.ch }
func (s *fakeSource) Ping() error                                 { return nil }
func (s *fakeSource) Close() error                                { return nil }

type recorder struct {
	mu          sync.Mutex
	events      []models.ChangeEvent
	userEvents  map[uuid.UUID][]models.RoomEvent
	resyncs     int
	listResyncs int
}

func (r *recorder) BroadcastUserEvent(userID uuid.UUID, event models.RoomEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userEvents == nil {
		r.userEvents = make(map[uuid.UUID][]models.RoomEvent)
	}
	r.userEvents[userID] = append(r.userEvents[userID], event)
}

func (r *recorder) ResyncRoomLists() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listResyncs++
}

func (r *recorder) forUser(userID uuid.UUID) []models.RoomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RoomEvent(nil), r.userEvents[userID]...)
}

func (r *recorder) BroadcastRoomEvent(event models.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) ResyncAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs++
}

func (r *recorder) snapshot() ([]models.ChangeEvent, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChangeEvent(nil), r.events...), r.resyncs
}

func notify(op string, roomID, id uuid.UUID) *pq.Notification {
	return &pq.Notification{Channel: db.ChangeChannel, Extra: `{"op":"` + op + `","room_id":"` + roomID.String() + `","id":"` + id.String() + `"}`}
}

func TestListenerDispatchesInCommitOrder(t *testing.T) {
	source := &fakeSource{ch: make(chan *pq.Notification, 8)}
	messages := new(mocks.MessageRepositoryMock)
	resolver := new(mocks.ProfileResolverMock)
	out := &recorder{}
	l := NewListener(source, messages, new(mocks.RoomRepositoryMock), resolver, out, zap.NewNop())

	roomID, sender := uuid.New(), uuid.New()
	inserted := models.Message{ID: uuid.New(), RoomID: roomID, SenderID: sender, Content: "hi"}
	gone := uuid.New()

	messages.On("GetMessage", mock.Anything, inserted.ID).Return(inserted, nil)
	messages.On("GetMessage", mock.Anything, gone).Return(nil, repositories.ErrMessageNotFound)
	resolver.On("Resolve", mock.Anything, []uuid.UUID{sender}).
		Return(map[uuid.UUID]models.Profile{sender: {UserID: sender, DisplayName: "ann"}}, nil)

	source.ch <- notify("INSERT", roomID, inserted.ID)
	source.ch <- notify("UPDATE", roomID, gone)
	source.ch <- notify("DELETE", roomID, gone)
	source.ch <- &pq.Notification{Extra: "not json"}
	source.ch <- nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, resyncs := out.snapshot()
		return resyncs == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	events, _ := out.snapshot()
	require.Equal(t, []string{db.ChangeChannel, db.RoomListChannel}, source.listened)
	require.Len(t, events, 2)
	require.Equal(t, models.OpInsert, events[0].Op)
	require.Equal(t, "hi", events[0].Message.Content)
	require.Equal(t, "ann", events[0].Sender.DisplayName)
	require.Equal(t, models.ChangeEvent{Op: models.OpDelete, RoomID: roomID, MessageID: gone}, events[1])
}

func TestListenerFetchFailureRequestsRoomResync(t *testing.T) {
	source := &fakeSource{ch: make(chan *pq.Notification, 1)}
	messages := new(mocks.MessageRepositoryMock)
	out := &recorder{}
	l := NewListener(source, messages, new(mocks.RoomRepositoryMock), new(mocks.ProfileResolverMock), out, zap.NewNop())

	roomID, id := uuid.New(), uuid.New()
	messages.On("GetMessage", mock.Anything, id).Return(nil, errors.New("conn refused"))

	l.handle(context.Background(), notify("INSERT", roomID, id).Extra)

	events, _ := out.snapshot()
	require.Equal(t, []models.ChangeEvent{{Op: models.OpResync, RoomID: roomID}}, events)
}

func TestListenerStopsWhenSourceCloses(t *testing.T) {
	source := &fakeSource{ch: make(chan *pq.Notification)}
	close(source.ch)
	l := NewListener(source, new(mocks.MessageRepositoryMock), new(mocks.RoomRepositoryMock), new(mocks.ProfileResolverMock), &recorder{}, zap.NewNop())

	require.Error(t, l.Run(context.Background()))
}

func roomListNotify(payload string) *pq.Notification {
	return &pq.Notification{Channel: db.RoomListChannel, Extra: payload}
}

func TestListenerFansRoomChangesOutToAudience(t *testing.T) {
	source := &fakeSource{ch: make(chan *pq.Notification, 4)}
	rooms := new(mocks.RoomRepositoryMock)
	out := &recorder{}
	l := NewListener(source, new(mocks.MessageRepositoryMock), rooms, new(mocks.ProfileResolverMock), out, zap.NewNop())

	roomID, groupID, a, b, joiner := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	room := models.ChatRoom{ID: roomID, Type: models.RoomDirect, GroupID: groupID}
	rooms.On("GetRoom", mock.Anything, roomID).Return(room, nil)
	rooms.On("RoomAudience", mock.Anything, roomID).Return([]uuid.UUID{a, b}, nil)

	source.ch <- roomListNotify(`{"op":"INSERT","room_id":"` + roomID.String() + `"}`)
	source.ch <- roomListNotify(`{"op":"INSERT","user_id":"` + joiner.String() + `"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx) //nolint:errcheck

	require.Eventually(t, func() bool { return len(out.forUser(joiner)) == 1 }, time.Second, 5*time.Millisecond)
	for _, user := range []uuid.UUID{a, b} {
		got := out.forUser(user)
		require.Len(t, got, 1)
		require.Equal(t, models.OpInsert, got[0].Op)
		require.Equal(t, roomID, got[0].Room.ID)
	}
	require.Equal(t, models.RoomEvent{Op: models.OpResync}, out.forUser(joiner)[0])
	events, _ := out.snapshot()
	require.Empty(t, events)
}

func TestListenerAudienceFailureResyncsRoomLists(t *testing.T) {
	rooms := new(mocks.RoomRepositoryMock)
	out := &recorder{}
	l := NewListener(&fakeSource{}, new(mocks.MessageRepositoryMock), rooms, new(mocks.ProfileResolverMock), out, zap.NewNop())

	roomID, gone := uuid.New(), uuid.New()
	rooms.On("GetRoom", mock.Anything, roomID).Return(models.ChatRoom{ID: roomID}, nil)
	rooms.On("RoomAudience", mock.Anything, roomID).Return(nil, errors.New("conn refused"))
	rooms.On("GetRoom", mock.Anything, gone).Return(nil, repositories.ErrRoomNotFound)

	l.handleRoomList(context.Background(), `{"op":"UPDATE","room_id":"`+roomID.String()+`"}`)
	l.handleRoomList(context.Background(), `{"op":"UPDATE","room_id":"`+gone.String()+`"}`)

	require.Equal(t, 1, out.listResyncs)
	require.Empty(t, out.userEvents)
}
