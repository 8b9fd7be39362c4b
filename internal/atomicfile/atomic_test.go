package atomicfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFile(t *testing.T) {
	t.Run("Replaces Content", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "crystal.json")
		require.NoError(t, os.WriteFile(filename, []byte("old"), 0644))

		require.NoError(t, WriteFile(filename, []byte("new"), 0600))
		got, err := os.ReadFile(filename)
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))

		info, err := os.Stat(filename)
		require.NoError(t, err)
		if os.PathSeparator == '/' {
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		}
	})

	t.Run("Creates Missing Directories", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "a", "b", "blob")
		require.NoError(t, WriteFile(filename, []byte("nested"), 0644))
		assert.FileExists(t, filename)
	})

	t.Run("Leaves No Temp Files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, WriteFile(filepath.Join(dir, "x"), []byte("x"), 0644))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, strings.HasPrefix(e.Name(), TempFilePrefix), "temp file left behind: %s", e.Name())
		}
	})

	t.Run("Fails Into A File", func(t *testing.T) {
		parent := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(parent, nil, 0644))
		assert.Error(t, WriteFile(filepath.Join(parent, "child"), []byte("x"), 0644))
	})
}

func TestRename(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "hoge.json.new")
	to := filepath.Join(dir, "history", "hoge.json.0")
	require.NoError(t, os.WriteFile(from, []byte("v1"), 0644))

	require.NoError(t, Rename(from, to))
	assert.NoFileExists(t, from)
	got, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	err = Rename(from, to)
	assert.True(t, os.IsNotExist(err), "the rename error is returned unwrapped")
}
