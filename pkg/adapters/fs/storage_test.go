package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi-Doc/CrystalData-sub001/internal/atomicfile"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
)

func openStorage(t *testing.T, cfg StorageConfig, j core.Journal) *Storage {
	t.Helper()
	s := NewStorage(cfg)
	require.NoError(t, s.Prepare(context.Background(), core.StorageParams{Key: "blobs", Journal: j}))
	return s
}

func TestBlobPath(t *testing.T) {
	id := core.FileID(0xabc0123456789def)
	p := blobPath(id)
	assert.Equal(t, "abc/0123456789def", p)

	back, ok := parseBlobPath(p)
	require.True(t, ok)
	assert.Equal(t, id, back)

	_, ok = parseBlobPath("storage.snapshot")
	assert.False(t, ok)
}

func TestStoragePutGetDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStorage(t, StorageConfig{Directory: dir}, nil)

	id, err := s.Put(ctx, 0, []byte("hello"))
	require.NoError(t, err)
	assert.False(t, id.IsZero(), "zero id allocates")
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(blobPath(id))))

	data, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), s.Usage())

	t.Run("Overwrite Tracks Delta", func(t *testing.T) {
		_, err := s.Put(ctx, id, []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), s.Usage())
		assert.Equal(t, 1, s.Len())
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, id))
		assert.Equal(t, int64(0), s.Usage())
		assert.ErrorIs(t, s.Delete(ctx, id), core.ErrNotFound)
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Not Prepared", func(t *testing.T) {
		_, err := NewStorage(StorageConfig{Directory: dir}).Get(ctx, 1)
		assert.ErrorIs(t, err, core.ErrNotPrepared)
	})
}

func TestStorageQuotas(t *testing.T) {
	ctx := context.Background()

	t.Run("MaxFiles", func(t *testing.T) {
		s := openStorage(t, StorageConfig{Directory: t.TempDir(), MaxFiles: 2}, nil)
		_, err := s.Put(ctx, 1, []byte("a"))
		require.NoError(t, err)
		_, err = s.Put(ctx, 2, []byte("b"))
		require.NoError(t, err)
		_, err = s.Put(ctx, 3, []byte("c"))
		assert.ErrorIs(t, err, core.ErrOverNumberLimit)
		_, err = s.Put(ctx, 2, []byte("bb"))
		assert.NoError(t, err, "replacing an existing blob is allowed")
	})

	t.Run("MaxSize", func(t *testing.T) {
		s := openStorage(t, StorageConfig{Directory: t.TempDir(), MaxSize: 10}, nil)
		_, err := s.Put(ctx, 1, make([]byte, 8))
		require.NoError(t, err)
		_, err = s.Put(ctx, 2, make([]byte, 5))
		assert.ErrorIs(t, err, core.ErrOverSizeLimit)
		assert.Equal(t, int64(8), s.Usage())
	})
}

func TestStorageBackup(t *testing.T) {
	ctx := context.Background()
	dir, backup := t.TempDir(), t.TempDir()
	s := openStorage(t, StorageConfig{Directory: dir, BackupDirectory: backup}, nil)

	id, err := s.Put(ctx, 42, []byte("mirrored"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, filepath.FromSlash(blobPath(id)))))

	data, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "mirrored", string(data))

	require.NoError(t, s.Delete(ctx, id))
	assert.NoFileExists(t, filepath.Join(backup, filepath.FromSlash(blobPath(id))))
}

func TestStorageReplay(t *testing.T) {
	ctx := context.Background()
	jdir, dir := t.TempDir(), t.TempDir()

	j := journal.New(journal.Config{Directory: jdir})
	require.NoError(t, j.Prepare(ctx))
	s := openStorage(t, StorageConfig{Directory: dir}, j)

	for _, id := range []core.FileID{1, 2, 3} {
		_, err := s.Put(ctx, id, make([]byte, int(id)*10))
		require.NoError(t, err)
	}
	require.NoError(t, s.Save(ctx))

	// Changes after the snapshot only live in the journal.
	_, err := s.Put(ctx, 4, make([]byte, 40))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, 2))
	_, err = s.Put(ctx, 1, make([]byte, 5))
	require.NoError(t, err)
	require.NoError(t, j.Close(ctx))

	want := s.Sizes()
	require.Equal(t, map[core.FileID]int64{1: 5, 3: 30, 4: 40}, want)

	j2 := journal.New(journal.Config{Directory: jdir})
	require.NoError(t, j2.Prepare(ctx))
	s2 := openStorage(t, StorageConfig{Directory: dir}, j2)

	assert.Equal(t, want, s2.Sizes())
	assert.Equal(t, s.Usage(), s2.Usage())

	t.Run("Rebuilds Without Snapshot", func(t *testing.T) {
		require.NoError(t, os.Remove(filepath.Join(dir, snapshotPath)))
		s3 := openStorage(t, StorageConfig{Directory: dir}, journal.NewNull())
		assert.Equal(t, want, s3.Sizes())
	})

	t.Run("DeleteAll", func(t *testing.T) {
		require.NoError(t, s2.DeleteAll(ctx))
		assert.Equal(t, int64(0), s2.Usage())
		left, err := s2.primary.List(ctx, "*/*")
		require.NoError(t, err)
		assert.Empty(t, left)
		_, ok := j2.Shortcut("blobs")
		assert.False(t, ok)
	})
}

func TestStorageReplayWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	jdir, dir := t.TempDir(), t.TempDir()

	j := journal.New(journal.Config{Directory: jdir})
	require.NoError(t, j.Prepare(ctx))
	j.Add(9, core.RecordValue, []byte("before the storage"))
	s := openStorage(t, StorageConfig{Directory: dir}, j)

	for _, id := range []core.FileID{1, 2, 3} {
		_, err := s.Put(ctx, id, make([]byte, int(id)*10))
		require.NoError(t, err)
	}
	require.NoError(t, s.Delete(ctx, 2))
	_, err := s.Put(ctx, 1, make([]byte, 5))
	require.NoError(t, err)
	require.NoError(t, j.Close(ctx))

	want := s.Sizes()
	require.Equal(t, map[core.FileID]int64{1: 5, 3: 30}, want)
	assert.NoFileExists(t, filepath.Join(dir, snapshotPath))

	// A file the journal never recorded is not part of the table.
	stray := filepath.Join(dir, filepath.FromSlash(blobPath(99)))
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0755))
	require.NoError(t, os.WriteFile(stray, []byte("stray"), 0644))

	j2 := journal.New(journal.Config{Directory: jdir})
	require.NoError(t, j2.Prepare(ctx))
	s2 := openStorage(t, StorageConfig{Directory: dir}, j2)
	assert.Equal(t, want, s2.Sizes())
	assert.Equal(t, int64(35), s2.Usage())

	t.Run("Scans Without Journal History", func(t *testing.T) {
		s3 := openStorage(t, StorageConfig{Directory: dir}, journal.NewNull())
		assert.Equal(t, map[core.FileID]int64{1: 5, 3: 30, 99: 5}, s3.Sizes())
	})
}

func TestStorageReadOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openStorage(t, StorageConfig{Directory: dir}, nil)
	id, err := s.Put(ctx, 7, []byte("blob"))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx))

	inflight := filepath.Join(dir, atomicfile.TempFilePrefix+"inflight")
	require.NoError(t, os.WriteFile(inflight, []byte("partial"), 0644))

	ro := openStorage(t, StorageConfig{Directory: dir, ReadOnly: true}, nil)
	assert.FileExists(t, inflight, "temp files of a live writer are kept")
	assert.Equal(t, 1, ro.Len())

	data, err := ro.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(data))

	_, err = ro.Put(ctx, 8, []byte("x"))
	assert.ErrorIs(t, err, core.ErrNoAccess)
	assert.ErrorIs(t, ro.Delete(ctx, id), core.ErrNoAccess)
	assert.ErrorIs(t, ro.Save(ctx), core.ErrNoAccess)
	assert.ErrorIs(t, ro.DeleteAll(ctx), core.ErrNoAccess)
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(blobPath(id))))
}

func TestSnapshotChecksum(t *testing.T) {
	data, err := newSnapshot(7, map[core.FileID]int64{1: 10}).encode()
	require.NoError(t, err)

	snap, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.Position)

	data[0] ^= 0xff
	_, err = decodeSnapshot(data)
	assert.ErrorIs(t, err, core.ErrCorruptedData)
}
