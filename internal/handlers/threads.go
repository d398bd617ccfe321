package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/logger"
	"messaging-service/internal/models"
	"messaging-service/internal/profiles"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ThreadHandler serves the thread directory endpoints: conversation listing,
// explicit thread resolution, and group creation.
type ThreadHandler struct {
	threadRepo repositories.ThreadRepository
	directory  profiles.Directory
	audit      *telemetry.AuditEmitter
	log        *logger.Logger
}

// NewThreadHandler constructs a ThreadHandler.
func NewThreadHandler(threadRepo repositories.ThreadRepository, directory profiles.Directory, audit *telemetry.AuditEmitter, log *logger.Logger) *ThreadHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &ThreadHandler{threadRepo: threadRepo, directory: directory, audit: audit, log: log}
}

// conversationView is a summary with the peer's public profile attached.
type conversationView struct {
	models.ConversationSummary
	OtherUsername  string `json:"other_username,omitempty"`
	OtherAvatarURL string `json:"other_avatar_url,omitempty"`
}

// ListConversations handles GET /conversations. Threads come back ordered by
// most recent activity, each with the caller's unread counter and a preview
// of the last message.
func (h *ThreadHandler) ListConversations(c *gin.Context) {
	userID := callerID(c)

	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", 0)

	summaries, err := h.threadRepo.ListForUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		h.log.Error("conversation list failed", "user_id", userID, "error", err)
		respondError(c, err, "failed to load conversations")
		return
	}

	otherIDs := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		if !s.IsGroup && s.OtherUserID != 0 {
			otherIDs = append(otherIDs, s.OtherUserID)
		}
	}

	// Profile expansion is decorative; a directory outage degrades the list
	// to bare ids instead of failing it.
	profileByID := make(map[int64]profiles.Profile)
	if len(otherIDs) > 0 {
		resolved, err := h.directory.BulkProfiles(c.Request.Context(), otherIDs)
		if err != nil {
			h.log.Warn("profile expansion failed", "user_id", userID, "error", err)
		}
		for _, p := range resolved {
			profileByID[p.ID] = p
		}
	}

	views := make([]conversationView, 0, len(summaries))
	for _, s := range summaries {
		view := conversationView{ConversationSummary: s}
		if p, ok := profileByID[s.OtherUserID]; ok {
			view.OtherUsername = p.Username
			view.OtherAvatarURL = p.AvatarURL
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

type startThreadInput struct {
	RecipientID int64 `json:"recipient_id" binding:"required"`
}

// StartThread handles POST /threads/start. Resolves the canonical 1:1 thread
// for the pair, creating it if this is first contact. Idempotent: the same
// pair always lands on the same thread.
func (h *ThreadHandler) StartThread(c *gin.Context) {
	userID := callerID(c)

	var input startThreadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id is required"})
		return
	}

	thread, err := h.threadRepo.ResolveOrCreate(c.Request.Context(), userID, input.RecipientID)
	if err != nil {
		respondError(c, err, "failed to resolve thread")
		return
	}

	c.JSON(http.StatusOK, gin.H{"thread": thread})
}

type createGroupInput struct {
	Name      string  `json:"name" binding:"required"`
	MemberIDs []int64 `json:"member_ids" binding:"required"`
}

// CreateGroupThread handles POST /threads/group. The caller becomes a
// participant automatically; duplicate member ids are collapsed.
func (h *ThreadHandler) CreateGroupThread(c *gin.Context) {
	ownerID := callerID(c)
	requestID := requestIDFromContext(c)

	var input createGroupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and member_ids are required"})
		return
	}

	thread, err := h.threadRepo.CreateGroup(c.Request.Context(), ownerID, input.Name, input.MemberIDs)
	if err != nil {
		respondError(c, err, "failed to create group")
		return
	}

	h.audit.Emit(c.Request.Context(), "info",
		fmt.Sprintf("group thread %d created", thread.ID), requestID, callerIDPtr(c))

	c.JSON(http.StatusCreated, gin.H{"thread": thread})
}

// GetUnreadCounts handles GET /threads/:thread_id/unread. Returns the
// caller's counter plus, for their own threads, the full per-participant map.
func (h *ThreadHandler) GetUnreadCounts(c *gin.Context) {
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

	counts, err := h.threadRepo.UnreadCounts(c.Request.Context(), threadID)
	if err != nil {
		h.log.Error("unread counts lookup failed", "thread_id", threadID, "error", err)
		respondError(c, err, "failed to load unread counts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"thread_id":    threadID,
		"unread_count": counts.Get(userID),
		"participants": counts,
	})
}
