package roomsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
)

type fakeStream struct {
	roomID    uuid.UUID
	events    chan models.ChangeEvent
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newFakeStream(roomID uuid.UUID) *fakeStream {
	return &fakeStream{
		roomID: roomID,
		events: make(chan models.ChangeEvent, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan models.ChangeEvent { return s.events }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) push(ev models.ChangeEvent) {
	s.events <- ev
}

func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

type fakeFeed struct {
	mu      sync.Mutex
	streams []*fakeStream
	openErr error
}

func (f *fakeFeed) Open(_ context.Context, roomID uuid.UUID) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := newFakeStream(roomID)
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeFeed) latest() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[len(f.streams)-1]
}

// fakeAPI is an in-memory room server.
type fakeAPI struct {
	mu          sync.Mutex
	roomID      uuid.UUID
	sender      models.Profile
	messages    []models.MessageWithSender
	loads       int
	loadErr     error
	sendErr     error
	sendGate    chan struct{}
	sent        []models.SendRequest
	streamsSeen []int
	feed        *fakeFeed
	clock       time.Time
	tick        time.Duration
	onLoad      func()
}

func newFakeAPI(roomID uuid.UUID, sender models.Profile, feed *fakeFeed) *fakeAPI {
	return &fakeAPI{roomID: roomID, sender: sender, feed: feed, clock: base, tick: time.Second}
}

func (a *fakeAPI) add(content string, sender models.Profile) models.MessageWithSender {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addLocked(content, sender, nil)
}

func (a *fakeAPI) addLocked(content string, sender models.Profile, ref *uuid.UUID) models.MessageWithSender {
	a.clock = a.clock.Add(a.tick)
	m := models.MessageWithSender{
		Message: models.Message{
			ID:          uuid.New(),
			RoomID:      a.roomID,
			SenderID:    sender.UserID,
			Content:     content,
			MessageType: models.MessageText,
			ClientRef:   ref,
			CreatedAt:   a.clock,
		},
		Sender: sender,
	}
	a.messages = append(a.messages, m)
	return m
}

func (a *fakeAPI) loadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads
}

// LoadMessages runs a pending onLoad hook once, before serving the page.
func (a *fakeAPI) LoadMessages(_ context.Context, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.MessageWithSender, error) {
	a.mu.Lock()
	hook := a.onLoad
	a.onLoad = nil
	a.mu.Unlock()
	if hook != nil {
		hook()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loads++
	if a.feed != nil {
		a.streamsSeen = append(a.streamsSeen, a.feed.count())
	}
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	var out []models.MessageWithSender
	for _, m := range a.messages {
		if m.RoomID != roomID {
			continue
		}
		if before != nil && !before.Older(m.Message) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return models.CursorOf(out[j].Message).Older(out[i].Message) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, _ uuid.UUID, req models.SendRequest) (models.MessageWithSender, error) {
	a.mu.Lock()
	gate := a.sendGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.MessageWithSender{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, req)
	if a.sendErr != nil {
		return models.MessageWithSender{}, a.sendErr
	}
	for _, m := range a.messages {
		if m.ClientRef != nil && req.ClientRef != nil && *m.ClientRef == *req.ClientRef {
			return m, nil
		}
	}
	return a.addLocked(req.Content, a.sender, req.ClientRef), nil
}

func (a *fakeAPI) EditMessage(_ context.Context, messageID uuid.UUID, content string) (models.MessageWithSender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, m := range a.messages {
		if m.ID == messageID {
			edited := a.clock.Add(time.Minute)
			a.messages[i].Content = content
			a.messages[i].EditedAt = &edited
			return a.messages[i], nil
		}
	}
	return models.MessageWithSender{}, apperr.ErrNotFound
}

func (a *fakeAPI) DeleteMessage(_ context.Context, messageID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, m := range a.messages {
		if m.ID == messageID {
			a.messages = append(a.messages[:i], a.messages[i+1:]...)
			return nil
		}
	}
	return nil
}
