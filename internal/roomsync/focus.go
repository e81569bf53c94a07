package roomsync

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Focus holds the single room session a client is looking at. Switching
// rooms closes the previous session before the next one is used.
type Focus struct {
	mu      sync.Mutex
	open    func(roomID uuid.UUID) *Session
	current *Session
}

// NewFocus returns a Focus that builds sessions with open.
func NewFocus(open func(roomID uuid.UUID) *Session) *Focus {
	return &Focus{open: open}
}

// Switch focuses roomID. Focusing the current room again returns the
// existing session untouched.
func (f *Focus) Switch(ctx context.Context, roomID uuid.UUID) (*Session, error) {
	f.mu.Lock()
	if f.current != nil && f.current.RoomID() == roomID {
		cur := f.current
		f.mu.Unlock()
		return cur, nil
	}
	prev := f.current
	next := f.open(roomID)
	f.current = next
	f.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return next, next.Open(ctx)
}

// Current returns the focused session, or nil.
func (f *Focus) Current() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Close tears down the focused session.
func (f *Focus) Close() {
	f.mu.Lock()
	cur := f.current
	f.current = nil
	f.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}
