package roomsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
)

const (
	defaultPageSize    = 50
	defaultSendTimeout = 30 * time.Second
)

var errSessionClosed = errors.New("room session closed")

// State of a room session.
type State int

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateActive:
		return "ACTIVE"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// API is the request surface a session uses. *Client implements it.
type API interface {
	LoadMessages(ctx context.Context, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.MessageWithSender, error)
	SendMessage(ctx context.Context, roomID uuid.UUID, req models.SendRequest) (models.MessageWithSender, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, content string) (models.MessageWithSender, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID) error
}

var _ API = (*Client)(nil)

// Observer receives view and state changes. OnChange calls are serialized
// and each carries the view as of that call. Callbacks must not call Close
// or Resubscribe.
type Observer struct {
	OnChange      func([]Entry)
	OnStateChange func(State, error)
}

// Option configures a Session.
type Option func(*Session)

// WithPageSize sets how many messages a load fetches.
func WithPageSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithBackOff sets the policy used between automatic resubscription attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Session) { s.newBackOff = newBackOff }
}

// WithProfiles enables sender refresh for placeholder identities.
func WithProfiles(src ProfileSource) Option {
	return func(s *Session) { s.profiles = src }
}

// WithSendTimeout bounds a send round trip.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Session) { s.sendTimeout = d }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Session keeps one room's view live: it subscribes before loading, recovers
// from feed failures with a fresh load, and runs sends to completion even
// when the room is left.
type Session struct {
	roomID   uuid.UUID
	self     models.Profile
	api      API
	channel  *Channel
	engine   *Engine
	obs      Observer
	log      *zap.Logger
	profiles ProfileSource

	pageSize    int
	sendTimeout time.Duration
	newBackOff  func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	lastErr    error
	unsub      Unsubscribe
	closed     bool
	recovering bool
	// gen numbers subscriptions; genErr is set once the current one fails.
	gen    uint64
	genErr error

	// resub serializes subscribe-and-load attempts.
	resub    sync.Mutex
	notifyMu sync.Mutex
	bg       sync.WaitGroup
	sends    sync.WaitGroup
}

// NewSession constructs an unsubscribed session for roomID. self is the
// identity shown on optimistic sends.
func NewSession(roomID uuid.UUID, self models.Profile, api API, channel *Channel, obs Observer, log *zap.Logger, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:      roomID,
		self:        self,
		api:         api,
		channel:     channel,
		engine:      NewEngine(roomID),
		obs:         obs,
		log:         log.With(zap.String("room_id", roomID.String())),
		pageSize:    defaultPageSize,
		sendTimeout: defaultSendTimeout,
		newBackOff:  defaultBackOff,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RoomID is the room this session follows.
func (s *Session) RoomID() uuid.UUID {
	return s.roomID
}

// State returns the current state and, in ERROR, its cause.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.lastErr
}

// Entries returns the current view.
func (s *Session) Entries() []Entry {
	return s.engine.Snapshot()
}

// Open subscribes to the room and loads the newest page. A transient failure
// leaves the session in ERROR with automatic recovery running.
func (s *Session) Open(ctx context.Context) error {
	s.resub.Lock()
	defer s.resub.Unlock()
	if s.isClosed() {
		return errSessionClosed
	}
	if err := s.connect(ctx); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// Resubscribe drops the current subscription and performs a fresh
// subscribe-and-load.
func (s *Session) Resubscribe(ctx context.Context) error {
	s.resub.Lock()
	defer s.resub.Unlock()
	if s.isClosed() {
		return errSessionClosed
	}
	if err := s.connect(ctx); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// connect subscribes, then loads. It goes ACTIVE only if the subscription it
// made is still alive after the load. Callers hold resub.
func (s *Session) connect(ctx context.Context) error {
	s.setState(StateSubscribing, nil)
	s.dropSubscription()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.genErr = nil
	s.mu.Unlock()

	unsub, err := s.channel.Subscribe(ctx, s.roomID, s.handlers(gen))
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return errSessionClosed
	}
	s.unsub = unsub
	s.mu.Unlock()

	if err := s.reload(ctx); err != nil {
		s.dropSubscription()
		return err
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		s.dropSubscription()
		return errSessionClosed
	case s.genErr != nil:
		err := s.genErr
		s.mu.Unlock()
		s.dropSubscription()
		return err
	}
	changed := s.state != StateActive
	s.state = StateActive
	s.lastErr = nil
	s.mu.Unlock()
	if changed {
		s.stateChanged(StateActive, nil)
	}
	return nil
}

func (s *Session) handlers(gen uint64) Handlers {
	return Handlers{
		OnInsert: s.apply,
		OnUpdate: s.apply,
		OnDelete: s.apply,
		OnResync: func() { s.resync(gen) },
		OnError:  func(err error) { s.streamFailed(gen, err) },
	}
}

// streamFailed records the end of subscription gen. Failures of a
// subscription that has since been replaced are ignored.
func (s *Session) streamFailed(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.genErr = err
	s.mu.Unlock()
	s.fail(err)
}

func (s *Session) reload(ctx context.Context) error {
	mark := s.engine.Mark()
	page, err := s.api.LoadMessages(ctx, s.roomID, s.pageSize, nil)
	if err != nil {
		return err
	}
	s.engine.Load(mark, page)
	s.notify()
	s.refreshInBackground()
	return nil
}

func (s *Session) apply(ev models.ChangeEvent) {
	if !s.engine.Apply(ev) {
		return
	}
	s.notify()
	if ev.Op == models.OpInsert && (ev.Sender == nil || ev.Sender.Placeholder()) {
		s.refreshInBackground()
	}
}

// resync runs on the dispatcher goroutine, so events queued behind the
// RESYNC are applied after the reload.
func (s *Session) resync(gen uint64) {
	s.log.Info("room feed resync")
	if err := s.reload(s.ctx); err != nil {
		s.streamFailed(gen, err)
	}
}

// fail moves the session to ERROR and starts recovery for transient errors.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastErr = err
	start := apperr.Retryable(err) && !s.recovering
	if start {
		s.recovering = true
		s.bg.Add(1)
	}
	s.mu.Unlock()

	s.log.Warn("room session error", zap.Error(err))
	s.stateChanged(StateError, err)
	if start {
		go s.recover()
	}
}

func (s *Session) recover() {
	defer s.bg.Done()
	for {
		err := backoff.Retry(s.attempt, backoff.WithContext(s.newBackOff(), s.ctx))

		s.mu.Lock()
		again := err == nil && !s.closed && s.state == StateError && apperr.Retryable(s.lastErr)
		if !again {
			s.recovering = false
		}
		s.mu.Unlock()
		if again {
			continue
		}
		if err != nil && !errors.Is(err, errSessionClosed) && s.ctx.Err() == nil {
			s.log.Warn("room session recovery stopped", zap.Error(err))
		}
		return
	}
}

func (s *Session) attempt() error {
	s.resub.Lock()
	defer s.resub.Unlock()
	if s.isClosed() {
		return backoff.Permanent(errSessionClosed)
	}
	if s.live() {
		return nil
	}
	err := s.connect(s.ctx)
	if err == nil {
		s.log.Info("room session recovered")
		return nil
	}
	s.setState(StateError, err)
	if !apperr.Retryable(err) {
		return backoff.Permanent(err)
	}
	return err
}

// Send appends content optimistically and stores it. The round trip runs on
// a context detached from ctx: if ctx ends first Send returns its error and
// the message is still confirmed or failed in the view later.
func (s *Session) Send(ctx context.Context, content string, msgType models.MessageType) (SlotKey, error) {
	if strings.TrimSpace(content) == "" {
		return 0, apperr.Validation("message content is required")
	}
	if s.isClosed() {
		return 0, errSessionClosed
	}
	ref, key := s.engine.AppendLocal(content, msgType, s.self)
	s.notify()
	return key, s.roundTrip(ctx, models.SendRequest{Content: content, Type: msgType, ClientRef: &ref})
}

// Retry resends a failed entry with its original client_ref.
func (s *Session) Retry(ctx context.Context, key SlotKey) error {
	req, ok := s.engine.Retry(key)
	if !ok {
		return apperr.Validation("no failed message to retry")
	}
	s.notify()
	return s.roundTrip(ctx, req)
}

// Discard removes a failed entry from the view.
func (s *Session) Discard(key SlotKey) bool {
	if !s.engine.Discard(key) {
		return false
	}
	s.notify()
	return true
}

func (s *Session) roundTrip(ctx context.Context, req models.SendRequest) error {
	done := make(chan error, 1)
	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sendTimeout)
		defer cancel()

		msg, err := s.api.SendMessage(sendCtx, s.roomID, req)
		if err != nil {
			s.engine.Fail(*req.ClientRef, err)
		} else {
			s.engine.Confirm(*req.ClientRef, msg)
		}
		s.notify()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until in-flight sends finish.
func (s *Session) Wait() {
	s.sends.Wait()
}

// Edit replaces the content of one of the caller's messages and applies the
// result without waiting for the feed.
func (s *Session) Edit(ctx context.Context, messageID uuid.UUID, content string) error {
	msg, err := s.api.EditMessage(ctx, messageID, content)
	if err != nil {
		return err
	}
	stored := msg.Message
	s.apply(models.ChangeEvent{Op: models.OpUpdate, RoomID: s.roomID, MessageID: stored.ID, Message: &stored})
	return nil
}

// Delete removes one of the caller's messages.
func (s *Session) Delete(ctx context.Context, messageID uuid.UUID) error {
	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.apply(models.ChangeEvent{Op: models.OpDelete, RoomID: s.roomID, MessageID: messageID})
	return nil
}

// LoadOlder fetches the page preceding the oldest loaded message. It reports
// whether more history may exist.
func (s *Session) LoadOlder(ctx context.Context) (bool, error) {
	oldest, ok := s.engine.Oldest()
	if !ok {
		return false, nil
	}
	page, err := s.api.LoadMessages(ctx, s.roomID, s.pageSize, &oldest)
	if err != nil {
		return false, err
	}
	s.engine.LoadOlder(page)
	s.notify()
	return len(page) == s.pageSize, nil
}

// RefreshSenders resolves placeholder senders through the configured
// profile source.
func (s *Session) RefreshSenders(ctx context.Context) error {
	if s.profiles == nil {
		return nil
	}
	if err := s.engine.RefreshSenders(ctx, s.profiles); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Session) refreshInBackground() {
	if s.profiles == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.bg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.bg.Done()
		if err := s.RefreshSenders(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Debug("sender refresh failed", zap.Error(err))
		}
	}()
}

// Close unsubscribes and stops recovery. In-flight sends keep running; use
// Wait to block on them.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.dropSubscription()
	s.bg.Wait()
	s.setState(StateUnsubscribed, nil)
}

// live reports whether the session is ACTIVE on a subscription that has not
// failed.
func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && s.genErr == nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) dropSubscription() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	changed := s.state != state || err != nil
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
	if changed {
		s.stateChanged(state, err)
	}
}

func (s *Session) stateChanged(state State, err error) {
	if s.obs.OnStateChange != nil {
		s.obs.OnStateChange(state, err)
	}
}

func (s *Session) notify() {
	if s.obs.OnChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.obs.OnChange(s.engine.Snapshot())
}
