package crystal_test

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archi-Doc/CrystalData-sub001/pkg/adapters/fs"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/crystal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
)

type hoge struct {
	ID   int32  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// newCrystalizer opens a crystalizer over dir with a journal under dir/journal.
func newCrystalizer(t *testing.T, dir string, mods ...func(*crystal.Config)) *crystal.Crystalizer {
	t.Helper()
	config := crystal.Config{
		Directory: filepath.Join(dir, "data"),
		Journal:   journal.Config{Directory: filepath.Join(dir, "journal")},
	}
	for _, mod := range mods {
		mod(&config)
	}
	cz, err := crystal.New(config)
	require.NoError(t, err)
	return cz
}

func TestSaveAndReload(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name   string
		path   string
		format core.SaveFormat
	}{
		{"JSON", "hoge.json", core.FormatUtf8},
		{"YAML", "hoge.yaml", core.FormatUtf8},
		{"XDR", "hoge.bin", core.FormatBinary},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			config := crystal.Configuration{Path: tc.path, Format: tc.format}

			cz := newCrystalizer(t, dir)
			c, err := crystal.Register[hoge](cz, "", config)
			require.NoError(t, err)
			require.NoError(t, cz.PrepareAndLoadAll(ctx, false))
			require.NoError(t, c.Update(ctx, func(h *hoge) error {
				h.ID, h.Name = 42, "crystal"
				return nil
			}))
			require.NoError(t, cz.Shutdown(ctx))
			assert.Equal(t, crystal.StateUnloaded, c.State())

			cz = newCrystalizer(t, dir)
			c, err = crystal.Register[hoge](cz, "", config)
			require.NoError(t, err)
			require.NoError(t, cz.PrepareAndLoadAll(ctx, true))
			got, err := c.Data(ctx)
			require.NoError(t, err)
			assert.Equal(t, &hoge{ID: 42, Name: "crystal"}, got)
			require.NoError(t, cz.Shutdown(ctx))
		})
	}
}

func TestRestartKeepsLatestSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := crystal.Configuration{
		Path:                  "hoge.json",
		Format:                core.FormatUtf8,
		SavePolicy:            core.SaveManual,
		NumberOfFileHistories: 2,
	}

	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[hoge](cz, "", config)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	require.NoError(t, c.Update(ctx, func(h *hoge) error {
		h.ID, h.Name = 1, "Hoge"
		return nil
	}))
	require.NoError(t, c.Save(ctx, core.NoUnload))
	require.NoError(t, c.Update(ctx, func(h *hoge) error {
		h.Name = "Fuga"
		return nil
	}))
	require.NoError(t, cz.Shutdown(ctx))

	cz = newCrystalizer(t, dir)
	c, err = crystal.Register[hoge](cz, "", config)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, true))

	got, err := c.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.ID)
	assert.Equal(t, "Fuga", got.Name)
	require.NoError(t, cz.Shutdown(ctx))
}

func TestFileHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	const histories = 3

	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[hoge](cz, "", crystal.Configuration{
		Path:                  "h.json",
		Format:                core.FormatUtf8,
		NumberOfFileHistories: histories,
	})
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	for i := 1; i <= histories+2; i++ {
		require.NoError(t, c.Update(ctx, func(h *hoge) error {
			h.ID = int32(i)
			return nil
		}))
		require.NoError(t, c.Save(ctx, core.NoUnload))
	}

	files, err := filepath.Glob(filepath.Join(dir, "data", "h.json.*"))
	require.NoError(t, err)
	assert.Len(t, files, histories)
	assert.NoFileExists(t, filepath.Join(dir, "data", "h.json.new"))
	require.NoError(t, cz.Shutdown(ctx))

	t.Run("Falls Back To History", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "h.json"), []byte("garbage"), 0o644))

		cz := newCrystalizer(t, dir)
		c, err := crystal.Register[hoge](cz, "", crystal.Configuration{
			Path:                  "h.json",
			Format:                core.FormatUtf8,
			NumberOfFileHistories: histories,
		})
		require.NoError(t, err)
		require.NoError(t, cz.PrepareAndLoadAll(ctx, true))

		got, err := c.Data(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(histories+1), got.ID)
	})
}

func TestSkipsUnchangedSave(t *testing.T) {
	ctx := context.Background()
	cz := newCrystalizer(t, t.TempDir(), func(c *crystal.Config) { c.EventBuffer = 128 })
	c, err := crystal.Register[hoge](cz, "", crystal.Configuration{Path: "h.json", Format: core.FormatUtf8})
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	require.NoError(t, c.Update(ctx, func(h *hoge) error {
		h.ID = 1
		return nil
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Save(ctx, core.NoUnload))
	}
	require.NoError(t, cz.Shutdown(ctx))

	saved := 0
	for ev := range cz.Events() {
		if ev.Type == core.EventSaved {
			saved++
		}
	}
	assert.Equal(t, 1, saved)
}

// trackingSerializer records the number of concurrent Serialize calls.
type trackingSerializer struct {
	crystal.JSONSerializer[hoge]
	active atomic.Int32
	peak   atomic.Int32
}

func (s *trackingSerializer) Serialize(v *hoge) ([]byte, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return s.JSONSerializer.Serialize(v)
}

func TestConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ts := &trackingSerializer{}

	cz := newCrystalizer(t, dir)
	c, err := crystal.Register(cz, "", crystal.Configuration{
		Path:                  "h.json",
		Format:                core.FormatUtf8,
		NumberOfFileHistories: 1,
	}, crystal.WithSerializer[hoge](ts))
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Update(ctx, func(h *hoge) error {
				h.ID++
				return nil
			}))
			assert.NoError(t, c.Save(ctx, core.NoUnload))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ts.peak.Load())
	require.NoError(t, cz.Shutdown(ctx))

	cz = newCrystalizer(t, dir)
	c, err = crystal.Register[hoge](cz, "", crystal.Configuration{Path: "h.json", Format: core.FormatUtf8})
	require.NoError(t, err)
	got, err := c.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(16), got.ID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[hoge](cz, "", crystal.Configuration{
		Path:                  "h.json",
		Format:                core.FormatUtf8,
		NumberOfFileHistories: 1,
	})
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	for i := 0; i < 2; i++ {
		require.NoError(t, c.Update(ctx, func(h *hoge) error {
			h.ID++
			return nil
		}))
		require.NoError(t, c.Save(ctx, core.NoUnload))
	}
	require.FileExists(t, filepath.Join(dir, "data", "h.json"))
	require.FileExists(t, filepath.Join(dir, "data", "h.json.0"))

	require.NoError(t, c.Delete(ctx))
	assert.NoFileExists(t, filepath.Join(dir, "data", "h.json"))
	assert.NoFileExists(t, filepath.Join(dir, "data", "h.json.0"))
	assert.Equal(t, crystal.StateDeleted, c.State())
	assert.Equal(t, 0, cz.Len())

	_, err = c.Data(ctx)
	assert.ErrorIs(t, err, core.ErrDeleted)
	assert.ErrorIs(t, c.Save(ctx, core.NoUnload), core.ErrDeleted)
	assert.NoError(t, c.Delete(ctx))
	require.NoError(t, cz.Shutdown(ctx))
}

func TestRegisterDuplicateKey(t *testing.T) {
	cz := newCrystalizer(t, t.TempDir())
	_, err := crystal.Register[hoge](cz, "", crystal.Configuration{Path: "h.json"})
	require.NoError(t, err)
	_, err = crystal.Register[hoge](cz, "", crystal.Configuration{Path: "h.json"})
	assert.ErrorIs(t, err, core.ErrAlreadyRegistered)

	_, err = crystal.Register[hoge](cz, "nopath", crystal.Configuration{})
	assert.Error(t, err)
	_, err = crystal.Register[hoge](cz, "volatile", crystal.Configuration{SavePolicy: core.SaveVolatile})
	assert.NoError(t, err)
}

func TestRequiredForLoading(t *testing.T) {
	ctx := context.Background()
	config := crystal.Configuration{Path: "h.json", RequiredForLoading: true}

	t.Run("Abort", func(t *testing.T) {
		cz := newCrystalizer(t, t.TempDir(), func(c *crystal.Config) { c.Query = core.AbortQuery{} })
		c, err := crystal.Register[hoge](cz, "", config)
		require.NoError(t, err)

		err = cz.PrepareAndLoadAll(ctx, true)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Equal(t, crystal.StateNotPrepared, c.State())
	})

	t.Run("Continue", func(t *testing.T) {
		cz := newCrystalizer(t, t.TempDir())
		c, err := crystal.Register(cz, "", config, crystal.WithReconstructor(func() *hoge {
			return &hoge{Name: "default"}
		}))
		require.NoError(t, err)

		require.NoError(t, cz.PrepareAndLoadAll(ctx, true))
		got, err := c.Data(ctx)
		require.NoError(t, err)
		assert.Equal(t, "default", got.Name)
	})

	t.Run("Query Not Used", func(t *testing.T) {
		cz := newCrystalizer(t, t.TempDir(), func(c *crystal.Config) { c.Query = core.AbortQuery{} })
		_, err := crystal.Register[hoge](cz, "", config)
		require.NoError(t, err)
		assert.NoError(t, cz.PrepareAndLoadAll(ctx, false))
	})
}

// counter applies its own journal records on load.
type counter struct {
	Total int64 `json:"total"`
}

func (c *counter) Replay(recordType core.RecordType, payload []byte) error {
	if recordType != core.RecordCustom || len(payload) != 8 {
		return errors.New("unexpected record")
	}
	c.Total += int64(binary.LittleEndian.Uint64(payload))
	return nil
}

func addTo(c *crystal.Crystal[counter], n int64) func(*counter) error {
	return func(v *counter) error {
		v.Total += n
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		c.AddJournal(core.RecordCustom, buf[:])
		return nil
	}
}

func TestJournalReplay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := crystal.Configuration{Path: "counter.json", Format: core.FormatUtf8}

	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[counter](cz, "", config)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	require.NoError(t, c.Update(ctx, addTo(c, 5)))
	require.NoError(t, c.Save(ctx, core.NoUnload))
	require.NoError(t, c.Update(ctx, addTo(c, 7)))

	// Simulate a crash: the journal reaches the disk, the crystal does not.
	j, ok := cz.Journal().(*journal.Journal)
	require.True(t, ok)
	require.NoError(t, j.Flush(ctx))

	cz2 := newCrystalizer(t, dir)
	c2, err := crystal.Register[counter](cz2, "", config)
	require.NoError(t, err)
	require.NoError(t, cz2.PrepareAndLoadAll(ctx, true))

	got, err := c2.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.Total)
	assert.True(t, c2.Waypoint().Position < cz2.Journal().Position())

	// The replayed state is saved even though nothing changed after load.
	require.NoError(t, cz2.Shutdown(ctx))
	cz3 := newCrystalizer(t, dir)
	c3, err := crystal.Register[counter](cz3, "", config)
	require.NoError(t, err)
	got, err = c3.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), got.Total)
	assert.Equal(t, cz3.Journal().Position(), c3.Waypoint().Position)
}

func TestIdleCrystalsReleaseBooks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	small := func(c *crystal.Config) {
		c.Journal.MemoryCapacity = 64
		c.Journal.MaxBooks = 2
	}
	idleConfig := crystal.Configuration{Path: "idle.json", Format: core.FormatUtf8}

	cz := newCrystalizer(t, dir, small)
	idle, err := crystal.Register[hoge](cz, "idle", idleConfig)
	require.NoError(t, err)
	_, err = crystal.Register[hoge](cz, "mem", crystal.Configuration{SavePolicy: core.SaveVolatile})
	require.NoError(t, err)
	busy, err := crystal.Register[counter](cz, "busy", crystal.Configuration{Path: "busy.json", Format: core.FormatUtf8})
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	require.NoError(t, idle.Update(ctx, func(h *hoge) error {
		h.Name = "idle"
		return nil
	}))
	require.NoError(t, cz.SaveAll(ctx, core.NoUnload))
	saved := idle.Waypoint()

	for i := 0; i < 40; i++ {
		require.NoError(t, busy.Update(ctx, addTo(busy, 1)))
		require.NoError(t, cz.SaveAll(ctx, core.NoUnload))
	}

	j := cz.Journal().(*journal.Journal)
	assert.Zero(t, j.Books())
	assert.False(t, j.OverCapacity())
	for _, key := range []string{"idle", "mem", "busy"} {
		wp, ok := j.Shortcut(key)
		require.True(t, ok, key)
		assert.Equal(t, j.Position(), wp.Position, key)
	}
	assert.Equal(t, saved.Hash, idle.Waypoint().Hash)
	require.NoError(t, cz.Shutdown(ctx))

	// The idle file still names a position inside the discarded books.
	cz = newCrystalizer(t, dir, small)
	idle, err = crystal.Register[hoge](cz, "idle", idleConfig)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, true))
	got, err := idle.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", got.Name)
	assert.Equal(t, cz.Journal().Position(), idle.Waypoint().Position)
	require.NoError(t, cz.Shutdown(ctx))
}

// brittle rejects every journal record.
type brittle struct {
	N int `json:"n"`
}

func (b *brittle) Replay(core.RecordType, []byte) error {
	return errors.New("cannot apply")
}

func TestInconsistentJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	config := crystal.Configuration{Path: "b.json", Format: core.FormatUtf8}

	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[brittle](cz, "", config)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))
	require.NoError(t, c.Update(ctx, func(b *brittle) error {
		c.AddJournal(core.RecordCustom, []byte{1})
		return nil
	}))
	j := cz.Journal().(*journal.Journal)
	require.NoError(t, j.Flush(ctx))

	t.Run("Abort", func(t *testing.T) {
		cz := newCrystalizer(t, dir, func(c *crystal.Config) { c.Query = core.AbortQuery{} })
		c, err := crystal.Register[brittle](cz, "", config)
		require.NoError(t, err)

		err = cz.PrepareAndLoadAll(ctx, true)
		assert.ErrorIs(t, err, core.ErrDataIsObsolete)
		_, err = c.Data(ctx)
		assert.ErrorIs(t, err, core.ErrDataIsObsolete)
	})

	t.Run("Continue", func(t *testing.T) {
		cz := newCrystalizer(t, dir)
		c, err := crystal.Register[brittle](cz, "", config)
		require.NoError(t, err)
		require.NoError(t, cz.PrepareAndLoadAll(ctx, true))
		assert.Equal(t, crystal.StatePrepared, c.State())
	})
}

type note struct {
	Text string `json:"text"`
}

type notebook struct {
	Title string                    `json:"title"`
	Note  crystal.StorageData[note] `json:"note"`
}

func (n *notebook) Bind(b *crystal.Binding) {
	n.Note.Bind(b)
}

func TestStorageData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	configure := func() crystal.Configuration {
		return crystal.Configuration{
			Path:    "notebook.json",
			Format:  core.FormatUtf8,
			Storage: fs.NewStorage(fs.StorageConfig{Directory: filepath.Join(dir, "storage")}),
		}
	}

	first := configure()
	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[notebook](cz, "", first)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))

	var id core.FileID
	require.NoError(t, c.Update(ctx, func(n *notebook) error {
		n.Title = "diary"
		if err := n.Note.Set(ctx, &note{Text: "hello"}); err != nil {
			return err
		}
		id = n.Note.ID
		return nil
	}))
	require.False(t, id.IsZero(), "the storage allocates the id on the first write")
	_, stored := first.Storage.(*fs.Storage).Sizes()[id]
	assert.True(t, stored)
	assert.Equal(t, 1, cz.Memory().Len())
	assert.Positive(t, cz.Memory().MemoryUsage())

	require.NoError(t, cz.Shutdown(ctx))
	assert.Equal(t, 0, cz.Memory().Len())
	assert.Equal(t, int64(0), cz.Memory().MemoryUsage())

	config := configure()
	storage := config.Storage.(*fs.Storage)
	cz = newCrystalizer(t, dir)
	c, err = crystal.Register[notebook](cz, "", config)
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, true))
	assert.Equal(t, 1, storage.Len())

	nb, err := c.Data(ctx)
	require.NoError(t, err)
	assert.Equal(t, "diary", nb.Title)
	assert.False(t, nb.Note.ID.IsZero())

	got, err := nb.Note.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)

	t.Run("Locked Data Is Force Unloaded", func(t *testing.T) {
		v, err := nb.Note.Lock(ctx)
		require.NoError(t, err)
		v.Text = "edited"
		require.NoError(t, nb.Note.MarkDirty(ctx))

		_, err = nb.Note.Lock(ctx)
		assert.ErrorIs(t, err, core.ErrDataIsLocked)
		assert.ErrorIs(t, nb.Note.TryUnload(ctx), core.ErrDataIsLocked)

		require.NoError(t, nb.Note.ForceUnload(ctx))
		assert.Equal(t, 0, cz.Memory().Len())

		got, err := nb.Note.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Text)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Update(ctx, func(n *notebook) error {
			return n.Note.Delete(ctx)
		}))
		assert.True(t, nb.Note.ID.IsZero())
		assert.Equal(t, 0, storage.Len())
		assert.Equal(t, int64(0), storage.Usage())
	})

	require.NoError(t, cz.Shutdown(ctx))
}

func TestDeleteWithoutLoading(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storageDir := filepath.Join(dir, "storage")
	configure := func() crystal.Configuration {
		return crystal.Configuration{
			Path:    "notebook.json",
			Format:  core.FormatUtf8,
			Storage: fs.NewStorage(fs.StorageConfig{Directory: storageDir}),
		}
	}

	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[notebook](cz, "notebook", configure())
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))
	require.NoError(t, c.Update(ctx, func(n *notebook) error {
		return n.Note.Set(ctx, &note{Text: "kept on disk"})
	}))
	require.NoError(t, cz.Shutdown(ctx))
	require.NotEmpty(t, listFiles(t, storageDir))

	cz = newCrystalizer(t, dir)
	_, err = crystal.Register[notebook](cz, "notebook", configure())
	require.NoError(t, err)
	require.NoError(t, cz.DeleteAll(ctx))

	assert.Empty(t, listFiles(t, storageDir))
	assert.NoFileExists(t, filepath.Join(dir, "data", "notebook.json"))
	_, ok := cz.Journal().Shortcut("notebook#storage")
	assert.False(t, ok, "the storage no longer holds journal books")
	_, ok = cz.Journal().Shortcut("notebook")
	assert.False(t, ok)
	require.NoError(t, cz.Shutdown(ctx))
}

// listFiles returns the regular files below dir.
func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return files
}

func TestUnboundStorageData(t *testing.T) {
	var sd crystal.StorageData[note]
	_, err := sd.Get(context.Background())
	assert.ErrorIs(t, err, core.ErrNotPrepared)
	assert.ErrorIs(t, sd.Set(context.Background(), &note{}), core.ErrNotPrepared)
}

func TestSchedulerSavesOnChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cz := newCrystalizer(t, dir, func(c *crystal.Config) { c.TickInterval = 10 * time.Millisecond })
	c, err := crystal.Register[hoge](cz, "", crystal.Configuration{
		Path:       "h.json",
		Format:     core.FormatUtf8,
		SavePolicy: core.SaveOnChanged,
	})
	require.NoError(t, err)
	require.NoError(t, cz.PrepareAndLoadAll(ctx, false))
	require.NoError(t, cz.Start(ctx))

	require.NoError(t, c.Update(ctx, func(h *hoge) error {
		h.Name = "queued"
		return nil
	}))

	path := filepath.Join(dir, "data", "h.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil && !c.Dirty()
	}, 2*time.Second, 10*time.Millisecond)

	state := cz.State().(crystal.CrystalizerState)
	assert.Equal(t, 1, len(state.Crystals))

	require.NoError(t, cz.Shutdown(ctx))
}

func TestVolatile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cz := newCrystalizer(t, dir)
	c, err := crystal.Register[hoge](cz, "mem", crystal.Configuration{SavePolicy: core.SaveVolatile})
	require.NoError(t, err)
	require.NoError(t, c.Update(ctx, func(h *hoge) error {
		h.ID = 9
		return nil
	}))
	require.NoError(t, cz.Shutdown(ctx))

	entries, err := os.ReadDir(filepath.Join(dir, "data"))
	if err == nil {
		assert.Empty(t, entries)
	}
}
