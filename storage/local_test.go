package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()

	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	store := setupLocalStorage(t)
	ctx := context.Background()

	path := ScriptPath("2a8f6c9e-0000-4000-8000-000000000001", 2)
	content := "# fm_case_id: 2a8f6c9e-0000-4000-8000-000000000001\n\nprint('hi')\n"

	require.NoError(t, store.Upload(ctx, path, strings.NewReader(content)))

	exists, err := store.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)

	reader, err := store.Download(ctx, path)
	require.NoError(t, err)
	defer reader.Close()

	downloaded, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, string(downloaded))

	require.NoError(t, store.Delete(ctx, path))
	exists, err = store.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_Overwrite(t *testing.T) {
	store := setupLocalStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "scripts/a/v1.py", strings.NewReader("first")))
	require.NoError(t, store.Upload(ctx, "scripts/a/v1.py", strings.NewReader("second")))

	reader, err := store.Download(ctx, "scripts/a/v1.py")
	require.NoError(t, err)
	defer reader.Close()

	downloaded, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "second", string(downloaded))
}

func TestLocalStorage_Errors(t *testing.T) {
	store := setupLocalStorage(t)
	ctx := context.Background()

	t.Run("download of a missing file", func(t *testing.T) {
		_, err := store.Download(ctx, "scripts/missing/v1.py")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("delete of a missing file", func(t *testing.T) {
		err := store.Delete(ctx, "scripts/missing/v1.py")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		err := store.Upload(ctx, "", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("traversal outside the base directory is rejected", func(t *testing.T) {
		err := store.Upload(ctx, "../escape.py", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestScriptPath(t *testing.T) {
	assert.Equal(t, "scripts/abc/v3.py", ScriptPath("abc", 3))
}
