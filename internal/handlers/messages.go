package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/attachments"
	"messaging-service/internal/logger"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

// MessageHandler serves the message lifecycle endpoints: send, history,
// edit, delete, reactions, read receipts, and search.
type MessageHandler struct {
	threadRepo  repositories.ThreadRepository
	messageRepo repositories.MessageRepository
	store       attachments.Store
	publisher   rabbitmq.Publisher
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
	maxUpload   int64
	log         *logger.Logger
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(
	threadRepo repositories.ThreadRepository,
	messageRepo repositories.MessageRepository,
	store attachments.Store,
	publisher rabbitmq.Publisher,
	hub *ws.Hub,
	audit *telemetry.AuditEmitter,
	maxUpload int64,
	log *logger.Logger,
) *MessageHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageHandler{
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
		store:       store,
		publisher:   publisher,
		hub:         hub,
		audit:       audit,
		maxUpload:   maxUpload,
		log:         log,
	}
}

type sendMessageInput struct {
	RecipientID int64  `json:"recipient_id" form:"recipient_id"`
	Content     string `json:"content" form:"content"`
	MessageType string `json:"message_type" form:"message_type"`
	ReplyTo     *int64 `json:"reply_to" form:"reply_to"`
}

// SendMessage handles POST /messages. The thread is resolved from the
// recipient, created on first contact. Accepts JSON for text messages and
// multipart form data when an attachment rides along.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	senderID := callerID(c)
	requestID := requestIDFromContext(c)

	var input sendMessageInput
	attachment := models.NullAttachment{}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBind(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
			return
		}
		meta, ok := h.storeUpload(c, senderID)
		if !ok {
			return
		}
		attachment = meta
	} else {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if input.MessageType == "" {
		input.MessageType = string(models.TypeText)
	}
	msgType := models.MessageType(input.MessageType)

	if err := models.ValidateNew(senderID, input.RecipientID, input.Content, msgType, attachment); err != nil {
		h.discardUpload(c, attachment)
		respondError(c, err, "invalid message")
		return
	}

	thread, err := h.threadRepo.ResolveOrCreate(c.Request.Context(), senderID, input.RecipientID)
	if err != nil {
		h.discardUpload(c, attachment)
		h.log.Error("thread resolution failed", "sender_id", senderID, "error", err)
		respondError(c, err, "failed to resolve thread")
		return
	}

	recipientID := input.RecipientID
	msg, err := h.messageRepo.Create(c.Request.Context(), repositories.CreateMessageParams{
		Thread:      thread,
		SenderID:    senderID,
		RecipientID: &recipientID,
		Content:     input.Content,
		MessageType: msgType,
		Attachment:  attachment,
		ReplyTo:     input.ReplyTo,
	})
	if err != nil {
		h.discardUpload(c, attachment)
		h.log.Error("message create failed", "thread_id", thread.ID, "error", err)
		respondError(c, err, "failed to send message")
		return
	}

	h.afterSend(c, thread, msg, requestID)
	c.JSON(http.StatusCreated, gin.H{"message": msg, "thread_id": thread.ID})
}

// SendToThread handles POST /threads/:thread_id/messages, appending to an
// existing thread. This is the send path for groups, where there is no single
// recipient to resolve a thread from.
func (h *MessageHandler) SendToThread(c *gin.Context) {
	senderID := callerID(c)
	requestID := requestIDFromContext(c)

	threadID, ok := paramInt64(c, "thread_id")
	if !ok {
		return
	}

	thread, err := h.threadRepo.GetThread(c.Request.Context(), threadID)
	if err != nil {
		respondError(c, err, "failed to load thread")
		return
	}
	if !thread.HasParticipant(senderID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this thread"})
		return
	}

	var input sendMessageInput
	attachment := models.NullAttachment{}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.ShouldBind(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form data"})
			return
		}
		meta, ok := h.storeUpload(c, senderID)
		if !ok {
			return
		}
		attachment = meta
	} else {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if input.MessageType == "" {
		input.MessageType = string(models.TypeText)
	}
	msgType := models.MessageType(input.MessageType)

	if err := models.ValidateNew(senderID, 0, input.Content, msgType, attachment); err != nil {
		h.discardUpload(c, attachment)
		respondError(c, err, "invalid message")
		return
	}

	// Group messages have no single recipient row.
	var recipientID *int64
	if other, isDirect := thread.OtherParticipant(senderID); isDirect {
		recipientID = &other
	}

	msg, err := h.messageRepo.Create(c.Request.Context(), repositories.CreateMessageParams{
		Thread:      thread,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     input.Content,
		MessageType: msgType,
		Attachment:  attachment,
		ReplyTo:     input.ReplyTo,
	})
	if err != nil {
		h.discardUpload(c, attachment)
		h.log.Error("message create failed", "thread_id", thread.ID, "error", err)
		respondError(c, err, "failed to send message")
		return
	}

	h.afterSend(c, thread, msg, requestID)
	c.JSON(http.StatusCreated, gin.H{"message": msg, "thread_id": thread.ID})
}

// afterSend runs the post-commit tail of a send: metrics, websocket fanout,
// the notification event, and the audit record. All best-effort; the message
// is already durable.
func (h *MessageHandler) afterSend(c *gin.Context, thread models.Thread, msg models.Message, requestID string) {
	observability.IncMessageSent(string(msg.MessageType))
	observability.IncUnreadOp("increment")

	h.hub.BroadcastMessage(thread.ID, msg)

	notification := telemetry.MessageNotification{
		EventType:   "message_created",
		ThreadID:    thread.ID,
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		MessageType: string(msg.MessageType),
		Preview:     telemetry.TruncatePreview(msg.Content),
		OccurredAt:  msg.CreatedAt,
	}
	if err := h.publisher.Publish(c.Request.Context(), telemetry.RoutingMessageCreated, notification); err != nil {
		observability.IncAMQPPublishError()
		h.log.Warn("message notification publish failed", "message_id", msg.ID, "error", err)
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("message %d sent to thread %d", msg.ID, thread.ID),
		requestID, callerIDPtr(c))
}

// messageView pairs a message with its expanded reply preview for display.
type messageView struct {
	models.Message
	ReplyPreview *replyPreview `json:"reply_preview,omitempty"`
}

type replyPreview struct {
	MessageID int64  `json:"message_id"`
	SenderID  int64  `json:"sender_id,omitempty"`
	Content   string `json:"content"`
}

// GetThreadMessages handles GET /threads/:thread_id/messages. Returns one
// chronological page; fetching history marks the returned unread messages
// addressed to the caller as read.
func (h *MessageHandler) GetThreadMessages(c *gin.Context) {
	userID := callerID(c)

	threadID, ok := paramInt64(c, "thread_id")
	if !ok {
		return
	}

	thread, err := h.threadRepo.GetThread(c.Request.Context(), threadID)
	if err != nil {
		respondError(c, err, "failed to load thread")
		return
	}
	if !thread.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this thread"})
		return
	}

	window := repositories.ListWindow{Limit: queryInt(c, "limit", 0)}
	if raw := c.Query("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before timestamp"})
			return
		}
		window.Before = &ts
	}
	if raw := c.Query("after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after timestamp"})
			return
		}
		window.After = &ts
	}

	msgs, marked, err := h.messageRepo.ListForUser(c.Request.Context(), thread, userID, window)
	if err != nil {
		h.log.Error("message list failed", "thread_id", threadID, "error", err)
		respondError(c, err, "failed to load messages")
		return
	}
	if marked > 0 {
		observability.IncUnreadOp("decrement")
	}

	views, err := h.expandReplies(c, msgs)
	if err != nil {
		h.log.Error("reply expansion failed", "thread_id", threadID, "error", err)
		respondError(c, err, "failed to load messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": views, "marked_read": marked})
}

// expandReplies resolves reply targets into inline previews. A target that was
// soft deleted shows the deletion placeholder; a purged or otherwise missing
// target renders as unavailable rather than an error.
func (h *MessageHandler) expandReplies(c *gin.Context, msgs []models.Message) ([]messageView, error) {
	targetIDs := make([]int64, 0)
	seen := make(map[int64]struct{})
	for _, m := range msgs {
		if m.ReplyTo != nil {
			if _, ok := seen[*m.ReplyTo]; !ok {
				seen[*m.ReplyTo] = struct{}{}
				targetIDs = append(targetIDs, *m.ReplyTo)
			}
		}
	}

	targets := make(map[int64]models.Message, len(targetIDs))
	if len(targetIDs) > 0 {
		fetched, err := h.messageRepo.GetByIDs(c.Request.Context(), targetIDs)
		if err != nil {
			return nil, err
		}
		for _, t := range fetched {
			targets[t.ID] = t
		}
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		view := messageView{Message: m}
		if m.ReplyTo != nil {
			if target, ok := targets[*m.ReplyTo]; ok {
				preview := &replyPreview{MessageID: target.ID, SenderID: target.SenderID, Content: target.Content}
				if target.IsDeleted {
					preview.Content = models.DeletedPlaceholder
				}
				view.ReplyPreview = preview
			} else {
				view.ReplyPreview = &replyPreview{MessageID: *m.ReplyTo, Content: models.UnavailablePlaceholder}
			}
		}
		views = append(views, view)
	}
	return views, nil
}

type editMessageInput struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage handles PUT /messages/:message_id. Only the sender may edit,
// only within the edit window, and never on a deleted message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	editorID := callerID(c)
	requestID := requestIDFromContext(c)

	messageID, ok := paramInt64(c, "message_id")
	if !ok {
		return
	}

	var input editMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if err := models.ValidateEdit(input.Content); err != nil {
		respondError(c, err, "invalid content")
		return
	}

	msg, err := h.messageRepo.Edit(c.Request.Context(), messageID, editorID, input.Content)
	if err != nil {
		respondError(c, err, "failed to edit message")
		return
	}

	h.hub.BroadcastEdit(msg.ThreadID, msg)
	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("message %d edited", msg.ID), requestID, callerIDPtr(c))

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage handles DELETE /messages/:message_id?mode=soft|hard. Soft
// leaves a tombstone; hard removes the row. Both clear the attachment, which
// is discarded from storage after the database change commits.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	requesterID := callerID(c)
	requestID := requestIDFromContext(c)

	messageID, ok := paramInt64(c, "message_id")
	if !ok {
		return
	}

	mode := c.DefaultQuery("mode", "soft")
	if mode != "soft" && mode != "hard" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be soft or hard"})
		return
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err, "failed to load message")
		return
	}

	var attachmentPath string
	if mode == "soft" {
		attachmentPath, err = h.messageRepo.SoftDelete(c.Request.Context(), messageID, requesterID)
	} else {
		attachmentPath, err = h.messageRepo.HardDelete(c.Request.Context(), messageID, requesterID)
	}
	if err != nil {
		respondError(c, err, "failed to delete message")
		return
	}

	// The row change is committed. Physical attachment removal is best-effort
	// and idempotent; a failure leaves an orphan the cleanup pass reclaims.
	if attachmentPath != "" {
		if err := h.store.Delete(c.Request.Context(), attachmentPath); err != nil {
			h.log.Warn("attachment removal failed", "path", attachmentPath, "error", err)
		}
	}

	observability.IncMessageDeleted(mode)
	h.hub.BroadcastDeletion(msg.ThreadID, messageID)

	event := telemetry.MessageNotification{
		EventType:   "message_deleted",
		ThreadID:    msg.ThreadID,
		MessageID:   messageID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		MessageType: string(msg.MessageType),
		OccurredAt:  time.Now().UTC(),
	}
	if err := h.publisher.Publish(c.Request.Context(), telemetry.RoutingMessageDeleted, event); err != nil {
		observability.IncAMQPPublishError()
		h.log.Warn("delete notification publish failed", "message_id", messageID, "error", err)
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("message %d deleted (%s)", messageID, mode), requestID, callerIDPtr(c))

	c.Status(http.StatusNoContent)
}

type reactionInput struct {
	Emoji string `json:"emoji" binding:"required"`
}

// AddReaction handles POST /messages/:message_id/reactions. Reacting again
// replaces the caller's existing reaction.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	userID := callerID(c)

	messageID, ok := paramInt64(c, "message_id")
	if !ok {
		return
	}

	var input reactionInput
	if err := c.ShouldBindJSON(&input); err != nil || strings.TrimSpace(input.Emoji) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emoji is required"})
		return
	}

	msg, ok := h.authorizeMessageAccess(c, messageID, userID)
	if !ok {
		return
	}

	reactions, err := h.messageRepo.UpsertReaction(c.Request.Context(), messageID, userID, input.Emoji)
	if err != nil {
		respondError(c, err, "failed to add reaction")
		return
	}

	h.hub.BroadcastReactions(msg.ThreadID, messageID, reactions)
	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

// RemoveReaction handles DELETE /messages/:message_id/reactions.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	userID := callerID(c)

	messageID, ok := paramInt64(c, "message_id")
	if !ok {
		return
	}

	msg, ok := h.authorizeMessageAccess(c, messageID, userID)
	if !ok {
		return
	}

	reactions, err := h.messageRepo.RemoveReaction(c.Request.Context(), messageID, userID)
	if err != nil {
		respondError(c, err, "failed to remove reaction")
		return
	}

	h.hub.BroadcastReactions(msg.ThreadID, messageID, reactions)
	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

// authorizeMessageAccess loads the message and verifies the caller belongs to
// its thread. Writes the error response itself on failure.
func (h *MessageHandler) authorizeMessageAccess(c *gin.Context, messageID, userID int64) (models.Message, bool) {
	msg, err := h.messageRepo.Get(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err, "failed to load message")
		return models.Message{}, false
	}

	member, err := h.threadRepo.IsParticipant(c.Request.Context(), msg.ThreadID, userID)
	if err != nil {
		h.log.Error("participant check failed", "thread_id", msg.ThreadID, "error", err)
		respondError(c, err, "failed to load message")
		return models.Message{}, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this thread"})
		return models.Message{}, false
	}
	return msg, true
}

type markReadInput struct {
	MessageIDs []int64 `json:"message_ids"`
}

// MarkThreadRead handles POST /threads/:thread_id/read. With explicit ids
// only those messages flip; with an empty body every message addressed to the
// caller flips and the counter resets to zero.
func (h *MessageHandler) MarkThreadRead(c *gin.Context) {
	userID := callerID(c)

	threadID, ok := paramInt64(c, "thread_id")
	if !ok {
		return
	}

	thread, err := h.threadRepo.GetThread(c.Request.Context(), threadID)
	if err != nil {
		respondError(c, err, "failed to load thread")
		return
	}
	if !thread.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this thread"})
		return
	}

	var input markReadInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	marked, err := h.messageRepo.MarkRead(c.Request.Context(), thread, userID, input.MessageIDs)
	if err != nil {
		h.log.Error("mark read failed", "thread_id", threadID, "error", err)
		respondError(c, err, "failed to mark thread read")
		return
	}
	if marked > 0 {
		observability.IncUnreadOp("decrement")
	}

	unread, err := h.threadRepo.UnreadCount(c.Request.Context(), threadID, userID)
	if err != nil {
		h.log.Error("unread count lookup failed", "thread_id", threadID, "error", err)
		respondError(c, err, "failed to mark thread read")
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked_read": marked, "unread_count": unread})
}

// SearchMessages handles GET /messages/search?q=...&thread_id=...
// Results only ever come from threads the caller participates in.
func (h *MessageHandler) SearchMessages(c *gin.Context) {
	userID := callerID(c)

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	var threadID *int64
	if raw := c.Query("thread_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread_id"})
			return
		}
		member, err := h.threadRepo.IsParticipant(c.Request.Context(), parsed, userID)
		if err != nil {
			h.log.Error("participant check failed", "thread_id", parsed, "error", err)
			respondError(c, err, "search failed")
			return
		}
		if !member {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this thread"})
			return
		}
		threadID = &parsed
	}

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	msgs, err := h.messageRepo.Search(c.Request.Context(), userID, query, threadID, page, pageSize)
	if err != nil {
		h.log.Error("search failed", "user_id", userID, "error", err)
		respondError(c, err, "search failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs, "query": query})
}

// storeUpload reads the multipart attachment and persists it. Writes the
// error response itself and reports ok=false on failure. A request without a
// file part is fine for text messages; validation catches the mismatch later.
func (h *MessageHandler) storeUpload(c *gin.Context, ownerID int64) (models.NullAttachment, bool) {
	fileHeader, err := c.FormFile("attachment")
	if err != nil {
		return models.NullAttachment{}, true
	}
	if fileHeader.Size > h.maxUpload {
		c.JSON(http.StatusBadRequest, gin.H{"error": "attachment exceeds maximum size"})
		return models.NullAttachment{}, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable attachment"})
		return models.NullAttachment{}, false
	}
	defer file.Close()

	meta, err := h.store.Store(c.Request.Context(), ownerID, file, fileHeader.Header.Get("Content-Type"))
	if err != nil {
		h.log.Error("attachment store failed", "owner_id", ownerID, "error", err)
		respondError(c, apperr.Wrap(apperr.KindDependencyFailure, "failed to store attachment", err), "failed to store attachment")
		return models.NullAttachment{}, false
	}
	return models.SomeAttachment(meta), true
}

// discardUpload removes an already-stored attachment when the send it was
// uploaded for does not go through.
func (h *MessageHandler) discardUpload(c *gin.Context, attachment models.NullAttachment) {
	if !attachment.Valid {
		return
	}
	if err := h.store.Delete(c.Request.Context(), attachment.Path); err != nil {
		h.log.Warn("orphaned upload cleanup failed", "path", attachment.Path, "error", err)
	}
}
