package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"groupchat-service/internal/middleware"
	"groupchat-service/internal/mocks"
	"groupchat-service/internal/models"
	"groupchat-service/internal/services"
	"groupchat-service/internal/telemetry"
)

var testUser = uuid.MustParse("11111111-1111-4111-8111-111111111111")

func withUser(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, testUser)
		c.Next()
	})
}

func setupGroupRouter(groupRepo *mocks.GroupRepositoryMock, roomRepo *mocks.RoomRepositoryMock, audit *telemetry.AuditEmitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	handler := NewGroupHandler(
		services.NewGroups(groupRepo, nil, log),
		services.NewResolver(groupRepo, roomRepo, log),
		audit,
	)
	r := gin.New()
	withUser(r)
	r.POST("/groups", handler.CreateGroup)
	r.GET("/groups", handler.ListGroups)
	r.DELETE("/groups/:group_id", handler.DeleteGroup)
	r.POST("/groups/:group_id/room", handler.ResolveGroupRoom)
	r.POST("/groups/:group_id/direct", handler.ResolveDirectRoom)
	r.GET("/rooms", handler.ListRooms)
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCreateGroupSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat-service", "chat-service", "test", zap.NewNop())
	router := setupGroupRouter(groupRepo, new(mocks.RoomRepositoryMock), audit)
	groupID := uuid.New()

	groupRepo.On("CreateGroup", mock.Anything, testUser, "Design", mock.AnythingOfType("string")).
		Return(models.Group{ID: groupID, Name: "Design", OwnerID: testUser, InvitationEnabled: true}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.chat-service", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.Payload.Text == "Group created" && *e.UserID == testUser.String() && e.RequestID == "req-42"
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups", bytes.NewBufferString(`{"name":"Design"}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var group models.Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&group))
	require.Equal(t, groupID, group.ID)
	groupRepo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestCreateGroupInvalidPayload(t *testing.T) {
	router := setupGroupRouter(new(mocks.GroupRepositoryMock), new(mocks.RoomRepositoryMock), nil)

	req := httptest.NewRequest(http.MethodPost, "/groups", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", decodeError(t, rec)["code"])
}

func TestListGroupsRepoError(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(groupRepo, new(mocks.RoomRepositoryMock), nil)

	groupRepo.On("ListGroupsForUser", mock.Anything, testUser).Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/groups", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	require.Equal(t, "transient_io", body["code"])
	require.Equal(t, "service temporarily unavailable", body["error"])
	require.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestResolveGroupRoomReturnsRoomID(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	roomRepo := new(mocks.RoomRepositoryMock)
	router := setupGroupRouter(groupRepo, roomRepo, nil)
	groupID, roomID := uuid.New(), uuid.New()

	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(models.RoleMember, true, nil).Once()
	roomRepo.On("GetOrCreateGroupRoom", mock.Anything, groupID, testUser).Return(models.ChatRoom{ID: roomID}, false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/room", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"room_id":"`+roomID.String()+`"}`, rec.Body.String())
}

func TestResolveGroupRoomNotMember(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(groupRepo, new(mocks.RoomRepositoryMock), nil)
	groupID := uuid.New()

	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(nil, false, nil).Once()
	groupRepo.On("GetGroup", mock.Anything, groupID).Return(models.Group{ID: groupID}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/room", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "not_authorized", decodeError(t, rec)["code"])
}

func TestResolveDirectRoomPeerNotMember(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(groupRepo, new(mocks.RoomRepositoryMock), nil)
	groupID, peer := uuid.New(), uuid.New()

	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(models.RoleOwner, true, nil).Once()
	groupRepo.On("MemberRole", mock.Anything, groupID, peer).Return(nil, false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/direct", bytes.NewBufferString(`{"peer_id":"`+peer.String()+`"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "invalid_target", decodeError(t, rec)["code"])
}

func TestInvalidGroupIDParam(t *testing.T) {
	router := setupGroupRouter(new(mocks.GroupRepositoryMock), new(mocks.RoomRepositoryMock), nil)

	req := httptest.NewRequest(http.MethodDelete, "/groups/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteGroupByOwner(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(groupRepo, new(mocks.RoomRepositoryMock), nil)
	groupID := uuid.New()

	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(models.RoleOwner, true, nil).Once()
	groupRepo.On("DeleteGroup", mock.Anything, groupID).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/"+groupID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	groupRepo.AssertExpectations(t)
}
