package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"groupchat-service/internal/mocks"
	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
	"groupchat-service/internal/services"
)

func setupInvitationRouter(groupRepo *mocks.GroupRepositoryMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewInvitationHandler(services.NewInvitations(groupRepo, nil, "https://chat.example.com", zap.NewNop()), nil)
	r := gin.New()
	withUser(r)
	r.PUT("/groups/:group_id/invitation", handler.SetEnabled)
	r.POST("/groups/:group_id/invitation/regenerate", handler.Regenerate)
	r.GET("/invitations/:token", handler.Preview)
	r.POST("/invitations/:token/accept", handler.Accept)
	return r
}

func TestAcceptInvitationJoins(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupInvitationRouter(groupRepo)
	groupID := uuid.New()

	groupRepo.On("GroupByToken", mock.Anything, "abc123").Return(models.InvitationPreview{GroupID: groupID, GroupName: "g", InvitationEnabled: true}, nil)
	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(nil, false, nil).Once()
	groupRepo.On("JoinViaToken", mock.Anything, "abc123", groupID, testUser).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/invitations/abc123/accept", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var result models.JoinResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, models.JoinResult{GroupID: groupID, Joined: true}, result)
	groupRepo.AssertExpectations(t)
}

func TestAcceptInvitationAlreadyMember(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupInvitationRouter(groupRepo)
	groupID := uuid.New()

	groupRepo.On("GroupByToken", mock.Anything, "abc123").Return(models.InvitationPreview{GroupID: groupID, InvitationEnabled: true}, nil)
	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(models.RoleMember, true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/invitations/abc123/accept", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	groupRepo.AssertNotCalled(t, "JoinViaToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptInvitationErrors(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*mocks.GroupRepositoryMock, uuid.UUID)
		status int
		code   string
	}{
		{
			name: "unknown token",
			setup: func(m *mocks.GroupRepositoryMock, _ uuid.UUID) {
				m.On("GroupByToken", mock.Anything, "abc123").Return(nil, repositories.ErrTokenNotFound)
			},
			status: http.StatusNotFound,
			code:   "invalid_token",
		},
		{
			name: "disabled",
			setup: func(m *mocks.GroupRepositoryMock, g uuid.UUID) {
				m.On("GroupByToken", mock.Anything, "abc123").Return(models.InvitationPreview{GroupID: g}, nil)
			},
			status: http.StatusForbidden,
			code:   "invitations_disabled",
		},
		{
			name: "regenerated during join",
			setup: func(m *mocks.GroupRepositoryMock, g uuid.UUID) {
				m.On("GroupByToken", mock.Anything, "abc123").Return(models.InvitationPreview{GroupID: g, InvitationEnabled: true}, nil)
				m.On("MemberRole", mock.Anything, g, testUser).Return(nil, false, nil)
				m.On("JoinViaToken", mock.Anything, "abc123", g, testUser).Return(false, repositories.ErrTokenNotFound)
			},
			status: http.StatusNotFound,
			code:   "invalid_token",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			groupRepo := new(mocks.GroupRepositoryMock)
			tc.setup(groupRepo, uuid.New())
			router := setupInvitationRouter(groupRepo)

			req := httptest.NewRequest(http.MethodPost, "/invitations/abc123/accept", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.code, decodeError(t, rec)["code"])
		})
	}
}

func TestSetInvitationEnabledRequiresBody(t *testing.T) {
	router := setupInvitationRouter(new(mocks.GroupRepositoryMock))

	req := httptest.NewRequest(http.MethodPut, "/groups/"+uuid.NewString()+"/invitation", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetInvitationEnabledByAdmin(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupInvitationRouter(groupRepo)
	groupID := uuid.New()

	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(models.RoleAdmin, true, nil).Once()
	groupRepo.On("SetInvitationEnabled", mock.Anything, groupID, false).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/groups/"+groupID.String()+"/invitation", bytes.NewBufferString(`{"enabled":false}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"group_id":"`+groupID.String()+`","invitation_enabled":false}`, rec.Body.String())
}

func TestRegenerateReturnsLink(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupInvitationRouter(groupRepo)
	groupID := uuid.New()

	groupRepo.On("MemberRole", mock.Anything, groupID, testUser).Return(models.RoleOwner, true, nil).Once()
	groupRepo.On("ReplaceInvitationToken", mock.Anything, groupID, mock.AnythingOfType("string")).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/invitation/regenerate", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var inv models.Invitation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&inv))
	require.Equal(t, "https://chat.example.com/invite/"+inv.Token, inv.Link)
}
