package attachments

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFolder(t *testing.T) {
	assert.Equal(t, FolderImage, ClassifyFolder("image/png"))
	assert.Equal(t, FolderVideo, ClassifyFolder("video/mp4"))
	assert.Equal(t, FolderAudio, ClassifyFolder("audio/mpeg"))
	assert.Equal(t, FolderDocument, ClassifyFolder("application/pdf"))
	assert.Equal(t, FolderDocument, ClassifyFolder("text/plain"))
	assert.Equal(t, FolderGeneral, ClassifyFolder("application/octet-stream"))
	assert.Equal(t, FolderGeneral, ClassifyFolder(""))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)
	ctx := context.Background()

	meta, err := store.Store(ctx, 7, strings.NewReader("payload"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, FolderImage, meta.Folder)
	assert.Equal(t, int64(len("payload")), meta.Size)
	assert.True(t, strings.HasPrefix(meta.Path, "7/image/"))
	assert.True(t, strings.HasSuffix(meta.Path, ".png"))
	assert.Equal(t, "http://localhost/files/"+meta.Path, meta.URL)

	paths, err := store.ListPaths(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{meta.Path}, paths)

	metas, err := store.List(ctx, 7, FolderImage)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, meta.Path, metas[0].Path)

	metas, err = store.List(ctx, 7, FolderVideo)
	require.NoError(t, err)
	assert.Empty(t, metas)

	require.NoError(t, store.Delete(ctx, meta.Path))

	paths, err = store.ListPaths(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStoreDeleteIdempotent(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), "7/image/missing.png"))
}

func TestLocalStoreDeleteRejectsEscape(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)

	require.Error(t, store.Delete(context.Background(), "../outside.txt"))
	require.Error(t, store.Delete(context.Background(), "/etc/passwd"))
}

func TestLocalStoreListUnknownOwner(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost/files")
	require.NoError(t, err)

	paths, err := store.ListPaths(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, paths)
}
