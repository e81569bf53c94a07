package roomsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"groupchat-service/internal/apperr"
	"groupchat-service/internal/models"
)

const defaultTimeout = 15 * time.Second

// Client is the caller-facing HTTP surface of the chat service. Failures are
// reported as exactly one taxonomy error from apperr.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// NewClient constructs a Client for baseURL authenticating with token. A nil
// httpClient gets a default with a request timeout.
func NewClient(baseURL, token string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		log:     log,
	}
}

// ResolveGroupRoom returns the group's room, creating it on first use.
func (c *Client) ResolveGroupRoom(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error) {
	var out struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	err := c.do(ctx, http.MethodPost, "/groups/"+groupID.String()+"/room", nil, &out)
	return out.RoomID, err
}

// ResolveDirectRoom returns the direct room between the caller and peer in
// groupID, creating it on first use.
func (c *Client) ResolveDirectRoom(ctx context.Context, peer, groupID uuid.UUID) (uuid.UUID, error) {
	var out struct {
		RoomID uuid.UUID `json:"room_id"`
	}
	body := map[string]uuid.UUID{"peer_id": peer}
	err := c.do(ctx, http.MethodPost, "/groups/"+groupID.String()+"/direct", body, &out)
	return out.RoomID, err
}

// ListRooms returns the caller's rooms, most recently active first.
func (c *Client) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	var out struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &out)
	return out.Rooms, err
}

// LoadMessages returns up to limit messages of roomID in ascending order,
// strictly older than the before cursor when it is set.
func (c *Client) LoadMessages(ctx context.Context, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.MessageWithSender, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != nil {
		q.Set("before", before.CreatedAt.UTC().Format(time.RFC3339Nano))
		if before.ID != uuid.Nil {
			q.Set("before_id", before.ID.String())
		}
	}
	path := "/rooms/" + roomID.String() + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Messages []models.MessageWithSender `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

// SendMessage stores a message in roomID.
func (c *Client) SendMessage(ctx context.Context, roomID uuid.UUID, req models.SendRequest) (models.MessageWithSender, error) {
	var out models.MessageWithSender
	err := c.do(ctx, http.MethodPost, "/rooms/"+roomID.String()+"/messages", req, &out)
	return out, err
}

// EditMessage replaces the content of one of the caller's messages.
func (c *Client) EditMessage(ctx context.Context, messageID uuid.UUID, content string) (models.MessageWithSender, error) {
	var out models.MessageWithSender
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPatch, "/messages/"+messageID.String(), body, &out)
	return out, err
}

// DeleteMessage removes one of the caller's messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+messageID.String(), nil, nil)
}

// PreviewInvitation shows the group behind token.
func (c *Client) PreviewInvitation(ctx context.Context, token string) (models.InvitationPreview, error) {
	var out models.InvitationPreview
	err := c.do(ctx, http.MethodGet, "/invitations/"+url.PathEscape(token), nil, &out)
	return out, err
}

// JoinViaToken accepts an invitation.
func (c *Client) JoinViaToken(ctx context.Context, token string) (models.JoinResult, error) {
	var out models.JoinResult
	err := c.do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(token)+"/accept", nil, &out)
	return out, err
}

// SetInvitationEnabled toggles the group's invitation link.
func (c *Client) SetInvitationEnabled(ctx context.Context, groupID uuid.UUID, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.do(ctx, http.MethodPut, "/groups/"+groupID.String()+"/invitation", body, nil)
}

// RegenerateToken replaces the group's invitation token.
func (c *Client) RegenerateToken(ctx context.Context, groupID uuid.UUID) (models.Invitation, error) {
	var out models.Invitation
	err := c.do(ctx, http.MethodPost, "/groups/"+groupID.String()+"/invitation/regenerate", nil, &out)
	return out, err
}

// Resolve implements ProfileSource over GET /profiles.
func (c *Client) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id.String())
	}
	var body struct {
		Profiles []models.Profile `json:"profiles"`
	}
	if err := c.do(ctx, http.MethodGet, "/profiles?"+q.Encode(), nil, &body); err != nil {
		return nil, err
	}
	for _, p := range body.Profiles {
		if !p.Placeholder() {
			out[p.UserID] = p
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperr.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := responseError(resp)
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Error(err))
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Transient(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// responseError maps an error response back to the taxonomy.
func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if kind := apperr.FromCode(body.Code); kind != nil {
		if errors.Is(kind, apperr.ErrTransientIO) {
			return apperr.Transient(errors.New(msg))
		}
		if msg == kind.Error() {
			return kind
		}
		return fmt.Errorf("%w: %s", kind, msg)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", apperr.ErrNotAuthorized, msg)
	case resp.StatusCode >= http.StatusInternalServerError:
		return apperr.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	default:
		return fmt.Errorf("%w: %s", apperr.ErrValidation, msg)
	}
}
