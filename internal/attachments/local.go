package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// LocalStore keeps attachments on the local filesystem under
// <root>/<owner>/<folder>/<name> and serves them from a public base URL.
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore constructs a LocalStore rooted at dir.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment root: %w", err)
	}
	return &LocalStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Store writes the payload under a per-owner, per-kind path and returns the
// stable reference. The write goes through a temp file and rename so a
// crashed upload never leaves a half-written object at a served path.
func (s *LocalStore) Store(ctx context.Context, ownerID int64, payload io.Reader, declaredMime string) (models.AttachmentMeta, error) {
	if err := ctx.Err(); err != nil {
		return models.AttachmentMeta{}, err
	}

	folder := ClassifyFolder(declaredMime)
	relDir := filepath.Join(strconv.FormatInt(ownerID, 10), folder)
	if err := os.MkdirAll(filepath.Join(s.root, relDir), 0o755); err != nil {
		return models.AttachmentMeta{}, apperr.Wrap(apperr.KindDependencyFailure, "attachment store unavailable", err)
	}

	name := uuid.NewString() + extensionFor(declaredMime)
	relPath := filepath.ToSlash(filepath.Join(relDir, name))
	finalPath := filepath.Join(s.root, relDir, name)

	tmp, err := os.CreateTemp(filepath.Join(s.root, relDir), ".upload-*")
	if err != nil {
		return models.AttachmentMeta{}, apperr.Wrap(apperr.KindDependencyFailure, "attachment store unavailable", err)
	}
	size, err := io.Copy(tmp, payload)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return models.AttachmentMeta{}, apperr.Wrap(apperr.KindDependencyFailure, "attachment write failed", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		os.Remove(tmp.Name())
		return models.AttachmentMeta{}, apperr.Wrap(apperr.KindDependencyFailure, "attachment write failed", err)
	}

	return models.AttachmentMeta{
		URL:        s.baseURL + "/" + relPath,
		Path:       relPath,
		Size:       size,
		Mime:       declaredMime,
		Folder:     folder,
		UploadedAt: time.Now().UTC(),
	}, nil
}

// Delete removes the object at path. Missing objects are not an error.
func (s *LocalStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Wrap(apperr.KindDependencyFailure, "attachment delete failed", err)
	}
	return nil
}

// List returns metadata for the owner's stored objects, optionally filtered
// to one classification folder.
func (s *LocalStore) List(_ context.Context, ownerID int64, folder string) ([]models.AttachmentMeta, error) {
	metas := []models.AttachmentMeta{}
	err := s.walkOwner(ownerID, func(relPath, objFolder string, info os.FileInfo) {
		if folder != "" && folder != objFolder {
			return
		}
		metas = append(metas, models.AttachmentMeta{
			URL:        s.baseURL + "/" + relPath,
			Path:       relPath,
			Size:       info.Size(),
			Folder:     objFolder,
			UploadedAt: info.ModTime().UTC(),
		})
	})
	return metas, err
}

// ListPaths returns every stored path for the owner.
func (s *LocalStore) ListPaths(_ context.Context, ownerID int64) ([]string, error) {
	paths := []string{}
	err := s.walkOwner(ownerID, func(relPath, _ string, _ os.FileInfo) {
		paths = append(paths, relPath)
	})
	return paths, err
}

func (s *LocalStore) walkOwner(ownerID int64, visit func(relPath, folder string, info os.FileInfo)) error {
	ownerDir := filepath.Join(s.root, strconv.FormatInt(ownerID, 10))
	entries, err := os.ReadDir(ownerDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperr.Wrap(apperr.KindDependencyFailure, "attachment store unavailable", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		folder := entry.Name()
		files, err := os.ReadDir(filepath.Join(ownerDir, folder))
		if err != nil {
			return apperr.Wrap(apperr.KindDependencyFailure, "attachment store unavailable", err)
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			relPath := filepath.ToSlash(filepath.Join(strconv.FormatInt(ownerID, 10), folder, f.Name()))
			visit(relPath, folder, info)
		}
	}
	return nil
}

// resolve maps a stored relative path back under the root, rejecting
// anything that would escape it.
func (s *LocalStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", apperr.E(apperr.KindInvalidInput, "invalid attachment path")
	}
	return filepath.Join(s.root, clean), nil
}

func extensionFor(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav":
		return ".wav"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
