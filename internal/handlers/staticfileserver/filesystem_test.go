package staticfileserver_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	staticfileserver "example.com/staticserve/internal/handlers/staticfileserver"
)

func TestOSFileSystem(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("0123456789"), 0o644))
	modTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filePath, modTime, modTime))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	fs := staticfileserver.OSFileSystem{}
	ctx := context.Background()

	t.Run("stat file", func(t *testing.T) {
		meta, err := fs.Stat(ctx, filePath)
		require.NoError(t, err)
		assert.Equal(t, int64(10), meta.Size)
		assert.False(t, meta.IsDir)
		assert.True(t, meta.ModTime.Equal(modTime))
	})

	t.Run("stat missing", func(t *testing.T) {
		_, err := fs.Stat(ctx, filepath.Join(dir, "nope"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("open ranges", func(t *testing.T) {
		for _, tc := range []struct {
			start, end int64
			want       string
		}{
			{0, -1, "0123456789"},
			{0, 9, "0123456789"},
			{2, 5, "2345"},
			{7, -1, "789"},
			{9, 9, "9"},
		} {
			rc, err := fs.Open(ctx, filePath, tc.start, tc.end)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, tc.want, string(got), "range %d-%d", tc.start, tc.end)
		}
	})

	t.Run("open honours cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		rc, err := fs.Open(cctx, filePath, 0, -1)
		require.NoError(t, err)
		defer rc.Close()
		cancel()
		_, err = rc.Read(make([]byte, 4))
		assert.ErrorIs(t, err, context.Canceled)

		_, err = fs.Open(cctx, filePath, 0, -1)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("open rejects negative start", func(t *testing.T) {
		_, err := fs.Open(ctx, filePath, -1, 3)
		assert.Error(t, err)
	})

	t.Run("read dir", func(t *testing.T) {
		entries, err := fs.ReadDir(ctx, dir)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		byName := map[string]staticfileserver.DirEntry{}
		for _, e := range entries {
			byName[e.Name] = e
		}
		assert.True(t, byName["sub"].IsDir)
		assert.False(t, byName["data.txt"].IsDir)
		assert.Equal(t, int64(10), byName["data.txt"].Size)
	})

	t.Run("read dir on a file", func(t *testing.T) {
		_, err := fs.ReadDir(ctx, filePath)
		assert.Error(t, err)
	})
}
