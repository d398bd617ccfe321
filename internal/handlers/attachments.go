package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/attachments"
	"messaging-service/internal/logger"
	"messaging-service/internal/repositories"
)

// AttachmentHandler serves the attachment listing and maintenance endpoints.
type AttachmentHandler struct {
	store       attachments.Store
	messageRepo repositories.MessageRepository
	log         *logger.Logger
}

// NewAttachmentHandler constructs an AttachmentHandler.
func NewAttachmentHandler(store attachments.Store, messageRepo repositories.MessageRepository, log *logger.Logger) *AttachmentHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AttachmentHandler{store: store, messageRepo: messageRepo, log: log}
}

// ListAttachments handles GET /attachments?folder=image|video|audio|document|general.
// Lists the caller's stored objects, optionally restricted to one folder.
func (h *AttachmentHandler) ListAttachments(c *gin.Context) {
	ownerID := callerID(c)
	folder := c.Query("folder")

	metas, err := h.store.List(c.Request.Context(), ownerID, folder)
	if err != nil {
		h.log.Error("attachment list failed", "owner_id", ownerID, "error", err)
		respondError(c, err, "failed to list attachments")
		return
	}

	c.JSON(http.StatusOK, gin.H{"attachments": metas})
}

type cleanupInput struct {
	DryRun bool `json:"dry_run"`
}

// CleanupOrphans handles POST /attachments/cleanup. Diffs the caller's stored
// objects against the paths still referenced by live messages and removes the
// orphans. With dry_run the report comes back without deleting anything.
func (h *AttachmentHandler) CleanupOrphans(c *gin.Context) {
	ownerID := callerID(c)

	var input cleanupInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	stored, err := h.store.ListPaths(c.Request.Context(), ownerID)
	if err != nil {
		h.log.Error("attachment scan failed", "owner_id", ownerID, "error", err)
		respondError(c, err, "failed to scan attachments")
		return
	}

	live, err := h.messageRepo.LiveAttachmentPaths(c.Request.Context(), ownerID)
	if err != nil {
		h.log.Error("live attachment lookup failed", "owner_id", ownerID, "error", err)
		respondError(c, err, "failed to scan attachments")
		return
	}

	liveSet := make(map[string]struct{}, len(live))
	for _, p := range live {
		liveSet[p] = struct{}{}
	}

	orphaned := make([]string, 0)
	for _, p := range stored {
		if _, ok := liveSet[p]; !ok {
			orphaned = append(orphaned, p)
		}
	}

	deleted := 0
	if !input.DryRun {
		for _, p := range orphaned {
			if err := h.store.Delete(c.Request.Context(), p); err != nil {
				h.log.Warn("orphan removal failed", "path", p, "error", err)
				continue
			}
			deleted++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"scanned":  len(stored),
		"live":     len(live),
		"orphaned": orphaned,
		"deleted":  deleted,
		"dry_run":  input.DryRun,
	})
}
