package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDirStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewDirStore(root, zap.NewNop())

	t.Run("creates parent directories", func(t *testing.T) {
		err := store.Put(ctx, filepath.Join("location", "aichi.xlsx"), []byte("v1"))

		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(root, "location", "aichi.xlsx"))
	})

	t.Run("replaces existing content", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "doc.xlsx", []byte("original")))
		require.NoError(t, store.Put(ctx, "doc.xlsx", []byte("updated")))

		content, err := store.Get(ctx, "doc.xlsx")
		require.NoError(t, err)
		assert.Equal(t, []byte("updated"), content)
	})

	t.Run("leaves no staging files behind", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, filepath.Join("staging", "a.xlsx"), []byte("x")))

		entries, err := os.ReadDir(filepath.Join(root, "staging"))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := store.Put(cancelled, "late.xlsx", []byte("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDirStore_RejectsKeysOutsideRoot(t *testing.T) {
	ctx := context.Background()
	store := NewDirStore(t.TempDir(), zap.NewNop())

	for _, key := range []string{filepath.Join("..", "outside.xlsx"), "/etc/passwd"} {
		t.Run(key, func(t *testing.T) {
			err := store.Put(ctx, key, []byte("x"))
			assert.True(t, errors.Is(err, ErrKeyOutsideRoot), "got %v", err)

			_, err = store.Exists(ctx, key)
			assert.ErrorIs(t, err, ErrKeyOutsideRoot)
		})
	}
}

func TestDirStore_ListAndRemove(t *testing.T) {
	ctx := context.Background()
	store := NewDirStore(t.TempDir(), zap.NewNop())

	dir := filepath.Join("staff", "staff-001")
	for _, name := range []string{"b.xlsx", "a.xlsx", "c.xlsx"} {
		require.NoError(t, store.Put(ctx, filepath.Join(dir, name), []byte(name)))
	}

	keys, err := store.List(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.xlsx"),
		filepath.Join(dir, "b.xlsx"),
		filepath.Join(dir, "c.xlsx"),
	}, keys)

	require.NoError(t, store.Remove(ctx, keys[0]))
	require.NoError(t, store.Remove(ctx, keys[0]), "removing a missing key succeeds")

	exists, err := store.Exists(ctx, keys[0])
	require.NoError(t, err)
	assert.False(t, exists)

	keys, err = store.List(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	missing, err := store.List(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain id", input: "staff-001", want: "staff-001"},
		{name: "underscore", input: "aichi_main", want: "aichi_main"},
		{name: "traversal", input: "../../etc/passwd", want: "etcpasswd"},
		{name: "backslash", input: `a\b`, want: "ab"},
		{name: "spaces and symbols", input: " tokyo #1 ", want: "tokyo1"},
		{name: "japanese", input: "名古屋店", want: "名古屋店"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.input))
		})
	}
}
