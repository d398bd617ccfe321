package attachments

import (
	"context"
	"io"
	"strings"

	"messaging-service/internal/models"
)

// Folder classification buckets for stored objects.
const (
	FolderImage    = "image"
	FolderVideo    = "video"
	FolderAudio    = "audio"
	FolderDocument = "document"
	FolderGeneral  = "general"
)

// ClassifyFolder buckets a declared MIME type into a storage folder.
func ClassifyFolder(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return FolderImage
	case strings.HasPrefix(mime, "video/"):
		return FolderVideo
	case strings.HasPrefix(mime, "audio/"):
		return FolderAudio
	case strings.HasPrefix(mime, "application/pdf"),
		strings.HasPrefix(mime, "application/msword"),
		strings.HasPrefix(mime, "application/vnd."),
		strings.HasPrefix(mime, "text/"):
		return FolderDocument
	default:
		return FolderGeneral
	}
}

// Store persists binary attachment payloads outside the primary record store
// and hands back deletable references with durable public URLs.
type Store interface {
	Store(ctx context.Context, ownerID int64, payload io.Reader, declaredMime string) (models.AttachmentMeta, error)
	// Delete is idempotent: removing a path that no longer exists is not an error.
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, ownerID int64, folder string) ([]models.AttachmentMeta, error)
	ListPaths(ctx context.Context, ownerID int64) ([]string, error)
}
