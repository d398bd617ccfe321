package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/apperr"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/profiles"
)

func setupThreadRouter(t *testing.T) (*gin.Engine, *mocks.ThreadRepository, *mocks.Directory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	threadRepo := new(mocks.ThreadRepository)
	directory := new(mocks.Directory)
	handler := NewThreadHandler(threadRepo, directory, nil, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/threads/start", handler.StartThread)
	r.POST("/threads/group", handler.CreateGroupThread)
	r.GET("/threads/:thread_id/unread", handler.GetUnreadCounts)
	return r, threadRepo, directory
}

func TestListConversationsExpandsProfiles(t *testing.T) {
	router, threadRepo, directory := setupThreadRouter(t)

	summaries := []models.ConversationSummary{
		{ThreadID: 5, OtherUserID: 2, LastMessage: "see you", UnreadCount: 2},
		{ThreadID: 8, IsGroup: true, LastMessage: "meeting at 3"},
	}
	threadRepo.On("ListForUser", mock.Anything, int64(1), 1, 0).Return(summaries, nil).Once()
	directory.On("BulkProfiles", mock.Anything, []int64{2}).
		Return([]profiles.Profile{{ID: 2, Username: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conversations []struct {
			ThreadID      int64  `json:"thread_id"`
			OtherUsername string `json:"other_username"`
			UnreadCount   int    `json:"unread_count"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, "bob", resp.Conversations[0].OtherUsername)
	assert.Equal(t, 2, resp.Conversations[0].UnreadCount)
	assert.Empty(t, resp.Conversations[1].OtherUsername)

	threadRepo.AssertExpectations(t)
	directory.AssertExpectations(t)
}

func TestListConversationsDirectoryOutageDegrades(t *testing.T) {
	router, threadRepo, directory := setupThreadRouter(t)

	summaries := []models.ConversationSummary{{ThreadID: 5, OtherUserID: 2}}
	threadRepo.On("ListForUser", mock.Anything, int64(1), 1, 0).Return(summaries, nil).Once()
	directory.On("BulkProfiles", mock.Anything, []int64{2}).
		Return(([]profiles.Profile)(nil), apperr.E(apperr.KindDependencyFailure, "user service unavailable")).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// The listing still succeeds, just without usernames.
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartThreadIdempotent(t *testing.T) {
	router, threadRepo, _ := setupThreadRouter(t)

	thread := models.Thread{ID: 5, Participants: []int64{1, 2}}
	threadRepo.On("ResolveOrCreate", mock.Anything, int64(1), int64(2)).Return(thread, nil).Twice()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/threads/start", bytes.NewBufferString(`{"recipient_id":2}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Thread models.Thread `json:"thread"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, int64(5), resp.Thread.ID)
	}

	threadRepo.AssertExpectations(t)
}

func TestStartThreadWithSelfRejected(t *testing.T) {
	router, threadRepo, _ := setupThreadRouter(t)

	threadRepo.On("ResolveOrCreate", mock.Anything, int64(1), int64(1)).
		Return(models.Thread{}, apperr.E(apperr.KindInvalidInput, "cannot open a thread with yourself")).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/start", bytes.NewBufferString(`{"recipient_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateGroupThread(t *testing.T) {
	router, threadRepo, _ := setupThreadRouter(t)

	thread := models.Thread{ID: 9, IsGroup: true, Participants: []int64{1, 2, 3}}
	threadRepo.On("CreateGroup", mock.Anything, int64(1), "launch crew", []int64{2, 3}).Return(thread, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/group",
		bytes.NewBufferString(`{"name":"launch crew","member_ids":[2,3]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	threadRepo.AssertExpectations(t)
}

func TestCreateGroupThreadTooSmall(t *testing.T) {
	router, threadRepo, _ := setupThreadRouter(t)

	threadRepo.On("CreateGroup", mock.Anything, int64(1), "duo", []int64{2}).
		Return(models.Thread{}, apperr.E(apperr.KindInvalidInput, "a group needs at least two other members")).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/group",
		bytes.NewBufferString(`{"name":"duo","member_ids":[2]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnreadCounts(t *testing.T) {
	router, threadRepo, _ := setupThreadRouter(t)

	thread := models.Thread{ID: 5, Participants: []int64{1, 2}}
	threadRepo.On("GetThread", mock.Anything, int64(5)).Return(thread, nil).Once()
	threadRepo.On("UnreadCounts", mock.Anything, int64(5)).Return(models.UnreadMap{1: 4, 2: 0}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/threads/5/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(4), resp["unread_count"])
}

func TestGetUnreadCountsOutsiderForbidden(t *testing.T) {
	router, threadRepo, _ := setupThreadRouter(t)

	thread := models.Thread{ID: 5, Participants: []int64{2, 3}}
	threadRepo.On("GetThread", mock.Anything, int64(5)).Return(thread, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/threads/5/unread", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	threadRepo.AssertNotCalled(t, "UnreadCounts", mock.Anything, mock.Anything)
}
