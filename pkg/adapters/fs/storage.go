package fs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

const (
	snapshotPath = "storage.snapshot"

	// Fan-out: the high 12 bits name the directory, the low 52 bits the file.
	fanoutShift = 52
	fanoutMask  = 1<<fanoutShift - 1

	maxAllocateAttempts = 16
)

// StorageConfig holds the configuration of a directory-backed storage.
type StorageConfig struct {
	Directory string

	// BackupDirectory receives a best-effort mirror of every write and delete.
	BackupDirectory string

	// MaxSize bounds the total recorded size in bytes. Zero means unbounded.
	MaxSize int64

	// MaxFiles bounds the number of blobs. Zero means unbounded.
	MaxFiles int

	// ReadOnly restores the size table without touching the directory.
	// Put, Delete, DeleteAll and Save fail with core.ErrNoAccess.
	ReadOnly bool

	Logger  *slog.Logger
	Metrics metrics.Metrics
}

// Storage stores blobs as files in a two-level fan-out layout and keeps a
// size table persisted as a snapshot plus journal records.
type Storage struct {
	mu     sync.Mutex
	config StorageConfig
	logger *slog.Logger

	primary *Filer
	backup  *Filer

	sizes    map[core.FileID]int64
	usage    int64
	prepared bool

	key     string
	plane   uint32
	journal core.Journal
}

// NewStorage creates a storage. Call Prepare before use.
func NewStorage(config StorageConfig) *Storage {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Storage{
		config:  config,
		logger:  logger.With("component", "storage"),
		primary: NewFiler(config.Directory, logger),
		sizes:   make(map[core.FileID]int64),
	}
	if config.BackupDirectory != "" {
		s.backup = NewFiler(config.BackupDirectory, logger)
	}
	return s
}

// blobPath returns the fan-out path of id.
func blobPath(id core.FileID) string {
	return fmt.Sprintf("%03x/%013x", uint64(id)>>fanoutShift, uint64(id)&fanoutMask)
}

// parseBlobPath is the inverse of blobPath.
func parseBlobPath(p string) (core.FileID, bool) {
	dir, name, ok := strings.Cut(p, "/")
	if !ok || len(dir) != 3 || len(name) != 13 {
		return 0, false
	}
	hi, err := strconv.ParseUint(dir, 16, 64)
	if err != nil {
		return 0, false
	}
	lo, err := strconv.ParseUint(name, 16, 64)
	if err != nil {
		return 0, false
	}
	return core.FileID(hi<<fanoutShift | lo), true
}

// Prepare restores the size table: the snapshot is loaded and the journal
// records written after it are replayed. Without a snapshot the journal is
// replayed from the storage's first position; an unreadable snapshot is
// rebuilt by scanning the directory.
func (s *Storage) Prepare(ctx context.Context, params core.StorageParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Logger != nil {
		s.logger = params.Logger.With("component", "storage")
	}
	s.key = params.Key
	s.plane = uint32(xxhash.Sum64String(params.Key))
	s.journal = params.Journal
	if s.journal == nil {
		s.journal = journal.NewNull()
	}

	if !s.config.ReadOnly {
		if _, err := s.primary.CleanTemp(ctx); err != nil {
			s.logger.Warn("failed to clean temp files", "error", err)
		}
	}

	snap, err := s.loadSnapshot(ctx)
	switch {
	case err == nil:
		s.sizes = snap.table()
		if err := s.replayLocked(ctx, snap.Position); err != nil {
			if params.UseQuery && params.Query != nil &&
				params.Query.InconsistentJournal(ctx, s.key) == core.Abort {
				return fmt.Errorf("storage %s: %w: %w", s.key, core.ErrAborted, err)
			}
			s.logger.Warn("storage journal replay failed, rebuilding from directory", "error", err)
			if err := s.rebuildLocked(ctx); err != nil {
				return err
			}
		}
	case errors.Is(err, core.ErrNotFound):
		if err := s.replayFromEmptyLocked(ctx); err != nil {
			return err
		}
	default:
		s.logger.Warn("storage snapshot unreadable, rebuilding from directory", "error", err)
		if err := s.rebuildLocked(ctx); err != nil {
			return err
		}
	}

	s.usage = 0
	for _, size := range s.sizes {
		s.usage += size
	}
	// Pin the journal from here until the next snapshot.
	if _, ok := s.journal.Shortcut(s.key); !ok && !s.config.ReadOnly {
		s.journal.SetShortcut(s.key, core.Waypoint{Position: s.journal.Position()})
	}
	s.prepared = true

	s.logger.Debug("storage prepared", "key", s.key, "files", len(s.sizes), "usage", s.usage)
	metrics.RecordStorageUsage(s.config.Metrics, s.key, s.usage)
	return nil
}

// replayLocked applies the size-table records written since position.
func (s *Storage) replayLocked(ctx context.Context, position uint64) error {
	_, err := journal.Replay(ctx, s.journal, position, s.plane, func(r journal.Record) error {
		switch r.Type {
		case core.RecordAdd:
			if len(r.Payload) != 24 {
				return fmt.Errorf("storage add record at %d: %w", r.Position, core.ErrCorruptedData)
			}
			id := core.FileID(binary.LittleEndian.Uint64(r.Payload))
			s.sizes[id] = int64(binary.LittleEndian.Uint64(r.Payload[8:]))
		case core.RecordRemove:
			if len(r.Payload) != 8 {
				return fmt.Errorf("storage remove record at %d: %w", r.Position, core.ErrCorruptedData)
			}
			delete(s.sizes, core.FileID(binary.LittleEndian.Uint64(r.Payload)))
		}
		return nil
	})
	return err
}

// replayFromEmptyLocked restores a storage that never wrote a snapshot. Its
// table started empty at the shortcut set by the first Prepare, so replaying
// from there reproduces it. A shortcut carrying a hash belonged to a snapshot
// that is gone; that case, a missing shortcut and a discarded range fall back
// to scanning the directory.
func (s *Storage) replayFromEmptyLocked(ctx context.Context) error {
	wp, ok := s.journal.Shortcut(s.key)
	if ok && wp.Hash == 0 {
		s.sizes = make(map[core.FileID]int64)
		err := s.replayLocked(ctx, wp.Position)
		if err == nil {
			return nil
		}
		s.logger.Warn("storage journal replay failed, rebuilding from directory", "error", err)
	}
	return s.rebuildLocked(ctx)
}

// rebuildLocked reconstructs the size table from the files on disk.
func (s *Storage) rebuildLocked(ctx context.Context) error {
	matches, err := s.primary.List(ctx, "*/*")
	if err != nil {
		return err
	}
	sizes := make(map[core.FileID]int64, len(matches))
	for _, m := range matches {
		id, ok := parseBlobPath(m)
		if !ok {
			continue
		}
		size, err := s.primary.Size(ctx, m)
		if err != nil {
			return err
		}
		sizes[id] = size
	}
	s.sizes = sizes
	if len(sizes) > 0 {
		s.logger.Info("storage size table rebuilt", "files", len(sizes))
	}
	return nil
}

func (s *Storage) checkPrepared() error {
	if !s.prepared {
		return core.ErrNotPrepared
	}
	return nil
}

func (s *Storage) checkWritable() error {
	if err := s.checkPrepared(); err != nil {
		return err
	}
	if s.config.ReadOnly {
		return fmt.Errorf("storage %s is read-only: %w", s.key, core.ErrNoAccess)
	}
	return nil
}

// allocateLocked picks an unused random identifier.
func (s *Storage) allocateLocked() (core.FileID, error) {
	for i := 0; i < maxAllocateAttempts; i++ {
		id := core.FileID(rand.Uint64())
		if id.IsZero() {
			continue
		}
		if _, taken := s.sizes[id]; !taken {
			return id, nil
		}
	}
	return 0, fmt.Errorf("failed to allocate file id: %w", core.ErrFileOperation)
}

// Put stores data under id, allocating a new identifier when id is zero.
func (s *Storage) Put(ctx context.Context, id core.FileID, data []byte) (core.FileID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return id, err
	}

	if id.IsZero() {
		var err error
		if id, err = s.allocateLocked(); err != nil {
			return id, err
		}
	}

	old, exists := s.sizes[id]
	size := int64(len(data))
	delta := size - old
	if s.config.MaxSize > 0 && delta > 0 && s.usage+delta > s.config.MaxSize {
		return id, fmt.Errorf("storage %s: %w", s.key, core.ErrOverSizeLimit)
	}
	if s.config.MaxFiles > 0 && !exists && len(s.sizes) >= s.config.MaxFiles {
		return id, fmt.Errorf("storage %s: %w", s.key, core.ErrOverNumberLimit)
	}

	p := blobPath(id)
	if err := s.primary.Write(ctx, p, data); err != nil {
		return id, err
	}
	s.mirror(ctx, func(b *Filer) error { return b.Write(ctx, p, data) })

	s.sizes[id] = size
	s.usage += delta

	var rec [24]byte
	binary.LittleEndian.PutUint64(rec[0:], uint64(id))
	binary.LittleEndian.PutUint64(rec[8:], uint64(size))
	binary.LittleEndian.PutUint64(rec[16:], uint64(delta))
	s.journal.Add(s.plane, core.RecordAdd, rec[:])

	metrics.RecordStorageUsage(s.config.Metrics, s.key, s.usage)
	return id, nil
}

// Get returns the blob stored under id, falling back to the backup mirror.
func (s *Storage) Get(ctx context.Context, id core.FileID) ([]byte, error) {
	s.mu.Lock()
	if err := s.checkPrepared(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	_, ok := s.sizes[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, core.ErrNotFound)
	}

	p := blobPath(id)
	data, err := s.primary.Read(ctx, p)
	if err == nil {
		return data, nil
	}
	if s.backup != nil {
		if data, berr := s.backup.Read(ctx, p); berr == nil {
			s.logger.Warn("read blob from backup", "id", id, "error", err)
			return data, nil
		}
	}
	return nil, err
}

// Delete removes the blob stored under id.
func (s *Storage) Delete(ctx context.Context, id core.FileID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}

	size, ok := s.sizes[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, core.ErrNotFound)
	}

	p := blobPath(id)
	if err := s.primary.Delete(ctx, p); err != nil {
		return err
	}
	s.mirror(ctx, func(b *Filer) error { return b.Delete(ctx, p) })

	delete(s.sizes, id)
	s.usage -= size

	var rec [8]byte
	binary.LittleEndian.PutUint64(rec[:], uint64(id))
	s.journal.Add(s.plane, core.RecordRemove, rec[:])

	metrics.RecordStorageUsage(s.config.Metrics, s.key, s.usage)
	return nil
}

// DeleteAll removes every blob, the snapshot and the journal shortcut.
func (s *Storage) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}

	for id := range s.sizes {
		p := blobPath(id)
		if err := s.primary.Delete(ctx, p); err != nil {
			return err
		}
		s.mirror(ctx, func(b *Filer) error { return b.Delete(ctx, p) })
		delete(s.sizes, id)
	}
	if err := s.primary.Delete(ctx, snapshotPath); err != nil {
		return err
	}
	s.mirror(ctx, func(b *Filer) error { return b.Delete(ctx, snapshotPath) })

	s.usage = 0
	if s.journal != nil {
		s.journal.RemoveShortcut(s.key)
	}
	metrics.RecordStorageUsage(s.config.Metrics, s.key, 0)
	return nil
}

// Save writes the size-table snapshot and advances the storage waypoint.
func (s *Storage) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}

	snap := newSnapshot(s.journal.Position(), s.sizes)
	data, err := snap.encode()
	if err != nil {
		return err
	}
	if err := s.primary.Write(ctx, snapshotPath, data); err != nil {
		return err
	}
	s.mirror(ctx, func(b *Filer) error { return b.Write(ctx, snapshotPath, data) })

	s.journal.SetShortcut(s.key, core.Waypoint{Position: snap.Position, Hash: xxhash.Sum64(data)})
	return nil
}

// Usage returns the sum of the recorded blob sizes.
func (s *Storage) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Len returns the number of stored blobs.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sizes)
}

// Sizes returns a copy of the size table.
func (s *Storage) Sizes() map[core.FileID]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.FileID]int64, len(s.sizes))
	for id, size := range s.sizes {
		out[id] = size
	}
	return out
}

// mirror applies op to the backup root. Failures are logged and ignored.
func (s *Storage) mirror(ctx context.Context, op func(*Filer) error) {
	if s.backup == nil {
		return
	}
	if err := op(s.backup); err != nil {
		s.logger.Warn("backup mirror failed", "root", s.backup.Root(), "error", err)
	}
}

func (s *Storage) loadSnapshot(ctx context.Context) (*snapshot, error) {
	data, err := s.primary.Read(ctx, snapshotPath)
	if err == nil {
		snap, derr := decodeSnapshot(data)
		if derr == nil {
			return snap, nil
		}
		err = derr
	}
	if s.backup != nil {
		if data, berr := s.backup.Read(ctx, snapshotPath); berr == nil {
			if snap, derr := decodeSnapshot(data); derr == nil {
				s.logger.Warn("loaded storage snapshot from backup", "error", err)
				return snap, nil
			}
		}
	}
	return nil, err
}

var _ core.Storage = (*Storage)(nil)
