package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
	"groupchat-service/internal/profiles"
	"groupchat-service/internal/repositories"
)

const maxContentLength = 4000

// Messages implements load, send, edit and delete for room messages.
type Messages struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	profiles profiles.Resolver
	log      *zap.Logger

	pageSize    int
	maxPageSize int
}

// NewMessages constructs Messages.
func NewMessages(rooms repositories.RoomRepository, messages repositories.MessageRepository, resolver profiles.Resolver, pageSize, maxPageSize int, log *zap.Logger) *Messages {
	return &Messages{
		rooms:       rooms,
		messages:    messages,
		profiles:    resolver,
		log:         log,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
	}
}

// Load returns up to limit messages of the room ordered before the cursor
// (the newest page when nil), in ascending display order with senders
// resolved.
func (s *Messages) Load(ctx context.Context, caller, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.MessageWithSender, error) {
	if err := requireIDs(caller, roomID); err != nil {
		return nil, err
	}
	if err := s.requireAccess(ctx, roomID, caller); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListMessages(ctx, roomID, s.clampLimit(limit), before)
	if err != nil {
		return nil, storeErr(err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return s.withSenders(ctx, msgs), nil
}

func (s *Messages) clampLimit(limit int) int {
	if limit <= 0 {
		return s.pageSize
	}
	if limit > s.maxPageSize {
		return s.maxPageSize
	}
	return limit
}

// Send stores a message from caller. A repeated ClientRef returns the message
// stored by the first attempt.
func (s *Messages) Send(ctx context.Context, caller, roomID uuid.UUID, in models.SendRequest) (models.MessageWithSender, error) {
	if err := requireIDs(caller, roomID); err != nil {
		return models.MessageWithSender{}, err
	}
	content, err := validContent(in.Content)
	if err != nil {
		return models.MessageWithSender{}, err
	}
	msgType := in.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	if !msgType.Valid() {
		return models.MessageWithSender{}, apperr.Validation("unknown message type %q", msgType)
	}
	if in.ClientRef != nil && *in.ClientRef == uuid.Nil {
		return models.MessageWithSender{}, apperr.Validation("client_ref must not be the nil uuid")
	}

	msg, err := s.messages.SendMessage(ctx, repositories.SendParams{
		RoomID:    roomID,
		SenderID:  caller,
		Content:   content,
		Type:      msgType,
		ClientRef: in.ClientRef,
	})
	if err != nil {
		return models.MessageWithSender{}, storeErr(err)
	}
	return s.withSenders(ctx, []models.Message{msg})[0], nil
}

// Edit replaces the content of caller's own message.
func (s *Messages) Edit(ctx context.Context, caller, messageID uuid.UUID, content string) (models.MessageWithSender, error) {
	if err := requireIDs(caller, messageID); err != nil {
		return models.MessageWithSender{}, err
	}
	content, err := validContent(content)
	if err != nil {
		return models.MessageWithSender{}, err
	}
	if err := s.requireSender(ctx, messageID, caller); err != nil {
		return models.MessageWithSender{}, err
	}

	msg, err := s.messages.EditMessage(ctx, messageID, caller, content)
	if err != nil {
		return models.MessageWithSender{}, storeErr(err)
	}
	return s.withSenders(ctx, []models.Message{msg})[0], nil
}

// Delete removes caller's own message.
func (s *Messages) Delete(ctx context.Context, caller, messageID uuid.UUID) error {
	if err := requireIDs(caller, messageID); err != nil {
		return err
	}
	if err := s.requireSender(ctx, messageID, caller); err != nil {
		return err
	}
	return storeErr(s.messages.DeleteMessage(ctx, messageID, caller))
}

// CanAccess reports whether caller may read the room. Missing rooms are NotFound.
func (s *Messages) CanAccess(ctx context.Context, roomID, caller uuid.UUID) error {
	if err := requireIDs(caller, roomID); err != nil {
		return err
	}
	return s.requireAccess(ctx, roomID, caller)
}

func (s *Messages) requireAccess(ctx context.Context, roomID, caller uuid.UUID) error {
	ok, err := s.rooms.CanAccess(ctx, roomID, caller)
	if err != nil {
		return apperr.Transient(err)
	}
	if ok {
		return nil
	}
	if _, err := s.rooms.GetRoom(ctx, roomID); err != nil {
		return storeErr(err)
	}
	return apperr.ErrNotAuthorized
}

func (s *Messages) requireSender(ctx context.Context, messageID, caller uuid.UUID) error {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return storeErr(err)
	}
	if msg.SenderID != caller {
		return apperr.ErrNotAuthorized
	}
	return nil
}

// withSenders annotates msgs with sender profiles. A failed lookup falls back
// to placeholders rather than hiding the messages.
func (s *Messages) withSenders(ctx context.Context, msgs []models.Message) []models.MessageWithSender {
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	senders, err := s.profiles.Resolve(ctx, ids)
	if err != nil {
		s.log.Warn("sender resolution failed", zap.Error(err))
	}

	result := make([]models.MessageWithSender, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := senders[m.SenderID]
		if !ok {
			sender = models.PlaceholderProfile(m.SenderID)
		}
		result = append(result, models.MessageWithSender{Message: m, Sender: sender})
	}
	return result
}

func validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("message content is empty")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return "", apperr.Validation("message content exceeds %d characters", maxContentLength)
	}
	return content, nil
}
