// Package roomsync keeps a client's view of one chat room consistent with the
// server: an initial page load, a live change feed and the client's own
// optimistic sends are reconciled into a single ordered list.
package roomsync

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupchat-service/internal/models"
)

// SlotKey identifies a message in the view for its whole local lifetime,
// including the transition from pending to confirmed.
type SlotKey uint64

// Status of a view entry.
type Status int

const (
	StatusConfirmed Status = iota
	StatusPending
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Entry is one row of the reconciled view.
type Entry struct {
	Key     SlotKey
	Message models.Message
	Sender  models.Profile
	Status  Status
	// Err is the reason of a failed send.
	Err error
}

// ProfileSource resolves sender identities. Ids missing from the result stay
// placeholders.
type ProfileSource interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error)
}

// Mark is a point in the engine's event history taken before a page request
// is issued.
type Mark uint64

type slot struct {
	key     SlotKey
	msg     models.Message
	sender  models.Profile
	status  Status
	err     error
	seq     uint64
	touched uint64
	removed bool
}

// Engine is the message list of one room. All mutation goes through Load,
// LoadOlder, AppendLocal, Confirm, Fail, Retry, Discard and Apply.
type Engine struct {
	mu      sync.Mutex
	roomID  uuid.UUID
	arena   []*slot
	byID    map[uuid.UUID]*slot
	byRef   map[uuid.UUID]*slot
	deleted map[uuid.UUID]uint64
	senders map[uuid.UUID]models.Profile
	nextKey SlotKey
	nextSeq uint64
	epoch   uint64
	now     func() time.Time
}

// NewEngine returns an empty engine for roomID.
func NewEngine(roomID uuid.UUID) *Engine {
	return &Engine{
		roomID:  roomID,
		byID:    make(map[uuid.UUID]*slot),
		byRef:   make(map[uuid.UUID]*slot),
		deleted: make(map[uuid.UUID]uint64),
		senders: make(map[uuid.UUID]models.Profile),
		now:     time.Now,
	}
}

// RoomID is the room the engine reconciles.
func (e *Engine) RoomID() uuid.UUID {
	return e.roomID
}

// Mark records the current position in the event history. Pass it to Load
// so events that arrive while the page is in flight survive the replace.
func (e *Engine) Mark() Mark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Mark(e.epoch)
}

// Load replaces the confirmed set with page. Confirmed messages absent from
// the page are dropped unless an event touched them after mark. Pending and
// failed sends are kept, and slots of messages still present keep their key.
func (e *Engine) Load(mark Mark, page []models.MessageWithSender) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inPage := make(map[uuid.UUID]struct{}, len(page))
	for _, m := range page {
		inPage[m.ID] = struct{}{}
	}
	for id, s := range e.byID {
		if _, ok := inPage[id]; ok {
			continue
		}
		if s.status == StatusConfirmed && s.touched <= uint64(mark) {
			e.remove(s)
		}
	}
	for id, at := range e.deleted {
		if at <= uint64(mark) {
			delete(e.deleted, id)
		}
	}

	for _, m := range page {
		e.merge(uint64(mark), m)
	}
	e.compact()
}

// LoadOlder adds a page of history that precedes what is already loaded.
// Nothing is dropped.
func (e *Engine) LoadOlder(page []models.MessageWithSender) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range page {
		e.merge(e.epoch, m)
	}
}

// merge folds a loaded message into the view. A slot touched by an event
// after mark keeps its content unless the loaded copy is a later edit.
func (e *Engine) merge(mark uint64, m models.MessageWithSender) {
	if m.RoomID != uuid.Nil && m.RoomID != e.roomID {
		return
	}
	if _, gone := e.deleted[m.ID]; gone {
		return
	}
	sender := e.learnSender(m.SenderID, &m.Sender)

	if s, ok := e.byID[m.ID]; ok {
		if s.touched > mark && !editedAfter(m.Message, s.msg) {
			return
		}
		s.msg.Content = m.Content
		s.msg.EditedAt = m.EditedAt
		if s.sender.Placeholder() {
			s.sender = sender
		}
		return
	}
	if s := e.pendingFor(m.ClientRef); s != nil {
		e.confirm(s, m.Message, sender)
		s.touched = mark
		return
	}
	s := e.newSlot(m.Message, sender, StatusConfirmed)
	s.touched = mark
	e.byID[m.ID] = s
}

// AppendLocal adds an optimistic entry for a message the caller is about to
// send. The returned ref is sent to the server as client_ref.
func (e *Engine) AppendLocal(content string, msgType models.MessageType, sender models.Profile) (uuid.UUID, SlotKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref := uuid.New()
	if msgType == "" {
		msgType = models.MessageText
	}
	msg := models.Message{
		RoomID:      e.roomID,
		SenderID:    sender.UserID,
		Content:     content,
		MessageType: msgType,
		ClientRef:   &ref,
		CreatedAt:   e.now(),
	}
	s := e.newSlot(msg, sender, StatusPending)
	e.byRef[ref] = s
	return ref, s.key
}

// Confirm marks the local send ref as stored. It is a no-op when the feed
// already confirmed it.
func (e *Engine) Confirm(ref uuid.UUID, msg models.MessageWithSender) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch++
	if _, gone := e.deleted[msg.ID]; gone {
		if s, ok := e.byRef[ref]; ok {
			e.remove(s)
		}
		return
	}
	sender := e.learnSender(msg.SenderID, &msg.Sender)
	if s := e.pendingFor(&ref); s != nil {
		e.confirm(s, msg.Message, sender)
		s.touched = e.epoch
		return
	}
	if _, ok := e.byID[msg.ID]; ok {
		return
	}
	s := e.newSlot(msg.Message, sender, StatusConfirmed)
	s.touched = e.epoch
	e.byID[msg.ID] = s
}

// Fail marks the local send ref as failed. The entry stays in the view until
// it is retried or discarded.
func (e *Engine) Fail(ref uuid.UUID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.pendingFor(&ref); s != nil {
		s.status = StatusFailed
		s.err = err
	}
}

// Retry flips a failed entry back to pending and returns the request to
// resend. The client_ref is reused so the server stores the message once.
func (e *Engine) Retry(key SlotKey) (models.SendRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.slotByKey(key)
	if s == nil || s.status != StatusFailed {
		return models.SendRequest{}, false
	}
	s.status = StatusPending
	s.err = nil
	ref := *s.msg.ClientRef
	return models.SendRequest{Content: s.msg.Content, Type: s.msg.MessageType, ClientRef: &ref}, true
}

// Discard drops a failed entry.
func (e *Engine) Discard(key SlotKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.slotByKey(key)
	if s == nil || s.status != StatusFailed {
		return false
	}
	e.remove(s)
	return true
}

// Apply folds a change event into the view and reports whether the view
// changed. Duplicate inserts, updates of unknown messages and deletes of
// missing messages change nothing. RESYNC is left to the caller.
func (e *Engine) Apply(ev models.ChangeEvent) bool {
	if ev.RoomID != e.roomID {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.epoch++

	switch ev.Op {
	case models.OpInsert:
		if ev.Message == nil {
			return false
		}
		msg := *ev.Message
		if _, gone := e.deleted[msg.ID]; gone {
			return false
		}
		if _, dup := e.byID[msg.ID]; dup {
			return false
		}
		sender := e.learnSender(msg.SenderID, ev.Sender)
		if s := e.pendingFor(msg.ClientRef); s != nil {
			e.confirm(s, msg, sender)
			s.touched = e.epoch
			return true
		}
		s := e.newSlot(msg, sender, StatusConfirmed)
		s.touched = e.epoch
		e.byID[msg.ID] = s
		return true

	case models.OpUpdate:
		if ev.Message == nil {
			return false
		}
		s, ok := e.byID[ev.Message.ID]
		if !ok {
			return false
		}
		s.touched = e.epoch
		if s.msg.Content == ev.Message.Content && sameTime(s.msg.EditedAt, ev.Message.EditedAt) {
			return false
		}
		s.msg.Content = ev.Message.Content
		s.msg.EditedAt = ev.Message.EditedAt
		return true

	case models.OpDelete:
		id := ev.MessageID
		if id == uuid.Nil && ev.Message != nil {
			id = ev.Message.ID
		}
		if id == uuid.Nil {
			return false
		}
		e.deleted[id] = e.epoch
		s, ok := e.byID[id]
		if !ok {
			return false
		}
		e.remove(s)
		return true
	}
	return false
}

// Snapshot returns the ordered view: confirmed messages by (created_at, id),
// then pending and failed sends in the order they were made.
func (e *Engine) Snapshot() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	confirmed := make([]*slot, 0, len(e.byID))
	local := make([]*slot, 0)
	for _, s := range e.arena {
		switch {
		case s.removed:
		case s.status == StatusConfirmed:
			confirmed = append(confirmed, s)
		default:
			local = append(local, s)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool {
		a, b := confirmed[i].msg, confirmed[j].msg
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	sort.Slice(local, func(i, j int) bool { return local[i].seq < local[j].seq })

	out := make([]Entry, 0, len(confirmed)+len(local))
	for _, s := range append(confirmed, local...) {
		out = append(out, Entry{Key: s.key, Message: s.msg, Sender: s.sender, Status: s.status, Err: s.err})
	}
	return out
}

// Oldest returns the position of the oldest confirmed message, the cursor
// for the page before it.
func (e *Engine) Oldest() (models.Cursor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var oldest models.Cursor
	found := false
	for _, s := range e.byID {
		if !found || oldest.Older(s.msg) {
			oldest = models.CursorOf(s.msg)
			found = true
		}
	}
	return oldest, found
}

// RefreshSenders resolves the senders still shown as placeholders. The
// source is called without holding the engine lock.
func (e *Engine) RefreshSenders(ctx context.Context, src ProfileSource) error {
	e.mu.Lock()
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, s := range e.arena {
		if s.removed || !s.sender.Placeholder() {
			continue
		}
		if _, ok := seen[s.msg.SenderID]; ok {
			continue
		}
		seen[s.msg.SenderID] = struct{}{}
		ids = append(ids, s.msg.SenderID)
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	resolved, err := src.Resolve(ctx, ids)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, p := range resolved {
		if !p.Placeholder() {
			e.senders[id] = p
		}
	}
	for _, s := range e.arena {
		if s.removed || !s.sender.Placeholder() {
			continue
		}
		if p, ok := e.senders[s.msg.SenderID]; ok {
			s.sender = p
		}
	}
	return nil
}

// Len is the number of visible entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.arena {
		if !s.removed {
			n++
		}
	}
	return n
}

func (e *Engine) newSlot(msg models.Message, sender models.Profile, status Status) *slot {
	e.nextKey++
	e.nextSeq++
	s := &slot{key: e.nextKey, msg: msg, sender: sender, status: status, seq: e.nextSeq}
	e.arena = append(e.arena, s)
	return s
}

func (e *Engine) confirm(s *slot, msg models.Message, sender models.Profile) {
	if other, ok := e.byID[msg.ID]; ok && other != s {
		e.remove(other)
	}
	if ref := s.msg.ClientRef; ref != nil {
		delete(e.byRef, *ref)
		if msg.ClientRef == nil {
			msg.ClientRef = ref
		}
	}
	s.msg = msg
	s.status = StatusConfirmed
	s.err = nil
	if !sender.Placeholder() || s.sender.UserID != msg.SenderID {
		s.sender = sender
	}
	e.byID[msg.ID] = s
}

func (e *Engine) pendingFor(ref *uuid.UUID) *slot {
	if ref == nil {
		return nil
	}
	s, ok := e.byRef[*ref]
	if !ok || s.removed || s.status == StatusConfirmed {
		return nil
	}
	return s
}

func (e *Engine) slotByKey(key SlotKey) *slot {
	for _, s := range e.arena {
		if s.key == key && !s.removed {
			return s
		}
	}
	return nil
}

func (e *Engine) remove(s *slot) {
	s.removed = true
	if e.byID[s.msg.ID] == s {
		delete(e.byID, s.msg.ID)
	}
	if s.msg.ClientRef != nil && e.byRef[*s.msg.ClientRef] == s {
		delete(e.byRef, *s.msg.ClientRef)
	}
}

// compact drops removed slots from the arena.
func (e *Engine) compact() {
	kept := e.arena[:0]
	for _, s := range e.arena {
		if !s.removed {
			kept = append(kept, s)
		}
	}
	for i := len(kept); i < len(e.arena); i++ {
		e.arena[i] = nil
	}
	e.arena = kept
}

// learnSender records a resolved profile and returns the best known identity
// for id.
func (e *Engine) learnSender(id uuid.UUID, p *models.Profile) models.Profile {
	if p != nil && !p.Placeholder() && p.UserID == id {
		e.senders[id] = *p
		return *p
	}
	if known, ok := e.senders[id]; ok {
		return known
	}
	return models.PlaceholderProfile(id)
}

func editedAfter(a, b models.Message) bool {
	if a.EditedAt == nil {
		return false
	}
	return b.EditedAt == nil || a.EditedAt.After(*b.EditedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
