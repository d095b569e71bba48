package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/apicrawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "ship")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "archives/apicrawler.x.warc.gz", "application/warc", bytes.NewReader([]byte("warc")))
	require.NoError(t, err)
	full := filepath.Join(dir, "archives", "apicrawler.x.warc.gz")
	require.Equal(t, "file://"+full, uri)
	data, err := os.ReadFile(full)
	require.NoError(t, err)
	require.Equal(t, "warc", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "archives"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = store.PutObject(ctx, "", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
}
