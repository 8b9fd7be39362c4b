package fs_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi-Doc/CrystalData-sub001/pkg/adapters/fs"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

func TestFiler(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	f := fs.NewFiler(root, nil)

	t.Run("Write Creates Parents", func(t *testing.T) {
		require.NoError(t, f.Write(ctx, "a/b/data.json", []byte("{}")))
		data, err := os.ReadFile(filepath.Join(root, "a", "b", "data.json"))
		require.NoError(t, err)
		assert.Equal(t, "{}", string(data))
	})

	t.Run("Read Missing Is NotFound", func(t *testing.T) {
		_, err := f.Read(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Rejects Paths Outside Root", func(t *testing.T) {
		_, err := f.Read(ctx, "../escape")
		assert.ErrorIs(t, err, core.ErrNoAccess)
		assert.ErrorIs(t, f.Write(ctx, "/abs", nil), core.ErrNoAccess)
	})

	t.Run("Rename Replaces Destination", func(t *testing.T) {
		require.NoError(t, f.Write(ctx, "x", []byte("new")))
		require.NoError(t, f.Write(ctx, "y", []byte("old")))
		require.NoError(t, f.Rename(ctx, "x", "y"))

		data, err := f.Read(ctx, "y")
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
		_, err = f.Read(ctx, "x")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Delete Missing Is Not An Error", func(t *testing.T) {
		assert.NoError(t, f.Delete(ctx, "never-existed"))
	})

	t.Run("List Matches Pattern", func(t *testing.T) {
		require.NoError(t, f.Write(ctx, "data.json.0", nil))
		require.NoError(t, f.Write(ctx, "data.json.1", nil))

		got, err := f.List(ctx, "data.json.*")
		require.NoError(t, err)
		sort.Strings(got)
		assert.Equal(t, []string{"data.json.0", "data.json.1"}, got)

		got, err = f.List(ctx, "**/*.json")
		require.NoError(t, err)
		assert.Equal(t, []string{"a/b/data.json"}, got)
	})

	t.Run("CleanTemp Removes Leftovers", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a", "crystal-tmp-123"), []byte("x"), 0644))
		n, err := f.CleanTemp(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
