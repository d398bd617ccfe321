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
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

type messageTestDeps struct {
	threadRepo  *mocks.ThreadRepository
	messageRepo *mocks.MessageRepository
	store       *mocks.AttachmentStore
	publisher   *mocks.Publisher
}

func setupMessageRouter(t *testing.T) (*gin.Engine, messageTestDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := messageTestDeps{
		threadRepo:  new(mocks.ThreadRepository),
		messageRepo: new(mocks.MessageRepository),
		store:       new(mocks.AttachmentStore),
		publisher:   new(mocks.Publisher),
	}
	handler := NewMessageHandler(deps.threadRepo, deps.messageRepo, deps.store, deps.publisher, ws.NewHub(nil), nil, 1<<20, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	})
	r.POST("/messages", handler.SendMessage)
	r.GET("/messages/search", handler.SearchMessages)
	r.PUT("/messages/:message_id", handler.EditMessage)
	r.DELETE("/messages/:message_id", handler.DeleteMessage)
	r.POST("/messages/:message_id/reactions", handler.AddReaction)
	r.DELETE("/messages/:message_id/reactions", handler.RemoveReaction)
	r.GET("/threads/:thread_id/messages", handler.GetThreadMessages)
	r.POST("/threads/:thread_id/read", handler.MarkThreadRead)
	return r, deps
}

func directThread(id int64) models.Thread {
	return models.Thread{ID: id, Participants: []int64{1, 2}}
}

func TestSendMessageSuccess(t *testing.T) {
	router, deps := setupMessageRouter(t)

	thread := directThread(5)
	deps.threadRepo.On("ResolveOrCreate", mock.Anything, int64(1), int64(2)).Return(thread, nil).Once()
	deps.messageRepo.On("Create", mock.Anything, mock.MatchedBy(func(p repositories.CreateMessageParams) bool {
		return p.Thread.ID == 5 && p.SenderID == 1 && p.RecipientID != nil && *p.RecipientID == 2 && p.Content == "hello"
	})).Return(models.Message{ID: 10, ThreadID: 5, SenderID: 1, Content: "hello", MessageType: models.TypeText}, nil).Once()
	deps.publisher.On("Publish", mock.Anything, telemetry.RoutingMessageCreated, mock.Anything).Return(nil).Once()

	body := bytes.NewBufferString(`{"recipient_id":2,"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	deps.threadRepo.AssertExpectations(t)
	deps.messageRepo.AssertExpectations(t)
	deps.publisher.AssertExpectations(t)
}

func TestSendMessageToSelfRejected(t *testing.T) {
	router, deps := setupMessageRouter(t)

	body := bytes.NewBufferString(`{"recipient_id":1,"content":"hi me"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.threadRepo.AssertNotCalled(t, "ResolveOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageImageWithoutAttachment(t *testing.T) {
	router, _ := setupMessageRouter(t)

	body := bytes.NewBufferString(`{"recipient_id":2,"content":"pic","message_type":"image"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetThreadMessagesExpandsReplies(t *testing.T) {
	router, deps := setupMessageRouter(t)

	thread := directThread(5)
	replyTo := int64(4)
	dangling := int64(99)
	msgs := []models.Message{
		{ID: 4, ThreadID: 5, SenderID: 2, Content: "original"},
		{ID: 6, ThreadID: 5, SenderID: 1, Content: "reply", ReplyTo: &replyTo},
		{ID: 7, ThreadID: 5, SenderID: 2, Content: "lost parent", ReplyTo: &dangling},
	}

	deps.threadRepo.On("GetThread", mock.Anything, int64(5)).Return(thread, nil).Once()
	deps.messageRepo.On("ListForUser", mock.Anything, thread, int64(1), mock.Anything).Return(msgs, 1, nil).Once()
	deps.messageRepo.On("GetByIDs", mock.Anything, []int64{4, 99}).Return([]models.Message{msgs[0]}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/threads/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []struct {
			ID           int64 `json:"id"`
			ReplyPreview *struct {
				MessageID int64  `json:"message_id"`
				Content   string `json:"content"`
			} `json:"reply_preview"`
		} `json:"messages"`
		MarkedRead int `json:"marked_read"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, 1, resp.MarkedRead)

	assert.Nil(t, resp.Messages[0].ReplyPreview)
	require.NotNil(t, resp.Messages[1].ReplyPreview)
	assert.Equal(t, "original", resp.Messages[1].ReplyPreview.Content)
	require.NotNil(t, resp.Messages[2].ReplyPreview)
	assert.Equal(t, models.UnavailablePlaceholder, resp.Messages[2].ReplyPreview.Content)

	deps.messageRepo.AssertExpectations(t)
}

func TestGetThreadMessagesNotParticipant(t *testing.T) {
	router, deps := setupMessageRouter(t)

	outsider := models.Thread{ID: 5, Participants: []int64{2, 3}}
	deps.threadRepo.On("GetThread", mock.Anything, int64(5)).Return(outsider, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/threads/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	deps.messageRepo.AssertNotCalled(t, "ListForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEditMessageSuccess(t *testing.T) {
	router, deps := setupMessageRouter(t)

	edited := models.Message{ID: 10, ThreadID: 5, SenderID: 1, Content: "fixed"}
	deps.messageRepo.On("Edit", mock.Anything, int64(10), int64(1), "fixed").Return(edited, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/messages/10", bytes.NewBufferString(`{"content":"fixed"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	deps.messageRepo.AssertExpectations(t)
}

func TestEditMessageWindowExpired(t *testing.T) {
	router, deps := setupMessageRouter(t)

	deps.messageRepo.On("Edit", mock.Anything, int64(10), int64(1), "late").
		Return(models.Message{}, apperr.E(apperr.KindEditWindowExpired, "edit window has expired")).Once()

	req := httptest.NewRequest(http.MethodPut, "/messages/10", bytes.NewBufferString(`{"content":"late"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEditMessageForbidden(t *testing.T) {
	router, deps := setupMessageRouter(t)

	deps.messageRepo.On("Edit", mock.Anything, int64(10), int64(1), "nope").
		Return(models.Message{}, apperr.E(apperr.KindForbidden, "only the sender may edit a message")).Once()

	req := httptest.NewRequest(http.MethodPut, "/messages/10", bytes.NewBufferString(`{"content":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteMessageSoftRemovesAttachment(t *testing.T) {
	router, deps := setupMessageRouter(t)

	msg := models.Message{ID: 10, ThreadID: 5, SenderID: 1, MessageType: models.TypeImage}
	deps.messageRepo.On("Get", mock.Anything, int64(10)).Return(msg, nil).Once()
	deps.messageRepo.On("SoftDelete", mock.Anything, int64(10), int64(1)).Return("1/image/a.jpg", nil).Once()
	deps.store.On("Delete", mock.Anything, "1/image/a.jpg").Return(nil).Once()
	deps.publisher.On("Publish", mock.Anything, telemetry.RoutingMessageDeleted, mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	deps.messageRepo.AssertExpectations(t)
	deps.store.AssertExpectations(t)
	deps.publisher.AssertExpectations(t)
}

func TestDeleteMessageHard(t *testing.T) {
	router, deps := setupMessageRouter(t)

	msg := models.Message{ID: 10, ThreadID: 5, SenderID: 1}
	deps.messageRepo.On("Get", mock.Anything, int64(10)).Return(msg, nil).Once()
	deps.messageRepo.On("HardDelete", mock.Anything, int64(10), int64(1)).Return("", nil).Once()
	deps.publisher.On("Publish", mock.Anything, telemetry.RoutingMessageDeleted, mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/10?mode=hard", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	deps.store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDeleteMessageInvalidMode(t *testing.T) {
	router, deps := setupMessageRouter(t)

	req := httptest.NewRequest(http.MethodDelete, "/messages/10?mode=forever", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.messageRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestAddReactionSuccess(t *testing.T) {
	router, deps := setupMessageRouter(t)

	msg := models.Message{ID: 10, ThreadID: 5, SenderID: 2}
	reactions := []models.Reaction{{MessageID: 10, UserID: 1, Emoji: "👍"}}
	deps.messageRepo.On("Get", mock.Anything, int64(10)).Return(msg, nil).Once()
	deps.threadRepo.On("IsParticipant", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	deps.messageRepo.On("UpsertReaction", mock.Anything, int64(10), int64(1), "👍").Return(reactions, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages/10/reactions", bytes.NewBufferString(`{"emoji":"👍"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	deps.messageRepo.AssertExpectations(t)
	deps.threadRepo.AssertExpectations(t)
}

func TestAddReactionOutsiderForbidden(t *testing.T) {
	router, deps := setupMessageRouter(t)

	msg := models.Message{ID: 10, ThreadID: 5, SenderID: 2}
	deps.messageRepo.On("Get", mock.Anything, int64(10)).Return(msg, nil).Once()
	deps.threadRepo.On("IsParticipant", mock.Anything, int64(5), int64(1)).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/messages/10/reactions", bytes.NewBufferString(`{"emoji":"👍"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	deps.messageRepo.AssertNotCalled(t, "UpsertReaction", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveReactionNotFound(t *testing.T) {
	router, deps := setupMessageRouter(t)

	msg := models.Message{ID: 10, ThreadID: 5, SenderID: 2}
	deps.messageRepo.On("Get", mock.Anything, int64(10)).Return(msg, nil).Once()
	deps.threadRepo.On("IsParticipant", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	deps.messageRepo.On("RemoveReaction", mock.Anything, int64(10), int64(1)).
		Return(([]models.Reaction)(nil), repositories.ErrReactionNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/10/reactions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMarkThreadReadBulk(t *testing.T) {
	router, deps := setupMessageRouter(t)

	thread := directThread(5)
	deps.threadRepo.On("GetThread", mock.Anything, int64(5)).Return(thread, nil).Once()
	deps.messageRepo.On("MarkRead", mock.Anything, thread, int64(1), ([]int64)(nil)).Return(3, nil).Once()
	deps.threadRepo.On("UnreadCount", mock.Anything, int64(5), int64(1)).Return(0, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/5/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(3), resp["marked_read"])
	assert.Equal(t, float64(0), resp["unread_count"])
}

func TestMarkThreadReadTargeted(t *testing.T) {
	router, deps := setupMessageRouter(t)

	thread := directThread(5)
	deps.threadRepo.On("GetThread", mock.Anything, int64(5)).Return(thread, nil).Once()
	deps.messageRepo.On("MarkRead", mock.Anything, thread, int64(1), []int64{8, 9}).Return(2, nil).Once()
	deps.threadRepo.On("UnreadCount", mock.Anything, int64(5), int64(1)).Return(1, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/threads/5/read", bytes.NewBufferString(`{"message_ids":[8,9]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	deps.messageRepo.AssertExpectations(t)
}

func TestSearchMessagesMissingQuery(t *testing.T) {
	router, _ := setupMessageRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/messages/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMessagesScopedToThread(t *testing.T) {
	router, deps := setupMessageRouter(t)

	deps.threadRepo.On("IsParticipant", mock.Anything, int64(5), int64(1)).Return(true, nil).Once()
	deps.messageRepo.On("Search", mock.Anything, int64(1), "deploy", mock.MatchedBy(func(id *int64) bool {
		return id != nil && *id == 5
	}), 1, 0).Return([]models.Message{{ID: 3, ThreadID: 5, Content: "deploy friday"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/search?q=deploy&thread_id=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	deps.messageRepo.AssertExpectations(t)
}

func TestSearchMessagesForeignThreadForbidden(t *testing.T) {
	router, deps := setupMessageRouter(t)

	deps.threadRepo.On("IsParticipant", mock.Anything, int64(9), int64(1)).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/search?q=secret&thread_id=9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	deps.messageRepo.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
