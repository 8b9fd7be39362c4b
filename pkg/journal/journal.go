// Package journal implements the write-ahead journal.
//
// Records are appended to an in-memory buffer and addressed by position, a
// byte offset into the logical journal stream. The buffer is periodically
// appended to the active segment file; once the active segment grows past
// the memory capacity it is sealed into an immutable book. Books are
// discarded once every known waypoint has moved past them.
//
// Directory layout:
//
//	<start>-<end>.book   sealed, immutable segments
//	<start>.active       the segment currently being written
//	checkpoint.json      shortcut waypoints, size statistics, run id
package journal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

// Retention decides when passed books are deleted.
type Retention int

const (
	// RetentionEager deletes passed books on every seal and flush.
	RetentionEager Retention = iota
	// RetentionManual keeps books until Compact is called.
	RetentionManual
)

func (r Retention) String() string {
	if r == RetentionManual {
		return "manual"
	}
	return "eager"
}

// ParseRetention parses "eager" or "manual".
func ParseRetention(s string) (Retention, error) {
	switch strings.ToLower(s) {
	case "", "eager":
		return RetentionEager, nil
	case "manual":
		return RetentionManual, nil
	}
	return RetentionEager, fmt.Errorf("unknown journal retention: %s", s)
}

var errReadOnly = fmt.Errorf("journal is read-only: %w", core.ErrNoAccess)

const (
	defaultMemoryCapacity = 4 << 20
	defaultMaxBooks       = 64

	bookExt   = ".book"
	activeExt = ".active"
)

// Config holds the configuration of a directory-backed journal.
type Config struct {
	Directory string

	// MemoryCapacity is the segment size above which the active segment is
	// sealed into a book. Default 4MiB.
	MemoryCapacity int

	// MaxBooks is the number of retained books above which the journal
	// reports itself over capacity. Default 64.
	MaxBooks int

	Retention Retention

	// ReadOnly opens an existing journal for inspection. Prepare neither
	// creates, repairs nor renames files, and every write is refused.
	ReadOnly bool

	Logger  *slog.Logger
	Metrics metrics.Metrics
}

type book struct {
	start uint64
	end   uint64
	path  string
}

// Journal is the directory-backed write-ahead journal.
type Journal struct {
	mu     sync.Mutex
	config Config
	logger *slog.Logger

	position    uint64 // next write position
	activeStart uint64 // first position of the active segment
	flushed     uint64 // positions below are on disk
	buffer      []byte // positions [flushed, position)
	books       []book
	degraded    bool
	cp          *checkpoint
}

// New creates a journal. Call Prepare before use.
func New(config Config) *Journal {
	if config.MemoryCapacity <= 0 {
		config.MemoryCapacity = defaultMemoryCapacity
	}
	if config.MaxBooks <= 0 {
		config.MaxBooks = defaultMaxBooks
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Journal{
		config: config,
		logger: logger.With("component", "journal"),
		cp:     newCheckpoint(),
	}
}

func (j *Journal) activePath(start uint64) string {
	return filepath.Join(j.config.Directory, fmt.Sprintf("%016x%s", start, activeExt))
}

func (j *Journal) bookPath(start, end uint64) string {
	return filepath.Join(j.config.Directory, fmt.Sprintf("%016x-%016x%s", start, end, bookExt))
}

// Prepare scans the journal directory, repairs a torn active segment and
// restores the checkpoint.
func (j *Journal) Prepare(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	readOnly := j.config.ReadOnly
	if readOnly {
		if _, err := os.Stat(j.config.Directory); err != nil {
			return fmt.Errorf("journal directory %s: %w", j.config.Directory, core.ErrNotFound)
		}
	} else if err := os.MkdirAll(j.config.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	cp, err := loadCheckpoint(j.checkpointPath())
	if err != nil {
		// The checkpoint only accelerates recovery; start fresh.
		j.logger.Warn("journal checkpoint unreadable, starting fresh", "error", err)
		cp = newCheckpoint()
	}
	j.cp = cp
	if !readOnly {
		j.cp.rotateRunID()
	}

	entries, err := os.ReadDir(j.config.Directory)
	if err != nil {
		return fmt.Errorf("failed to read journal directory: %w", err)
	}

	var books []book
	var actives []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, bookExt):
			var start, end uint64
			if _, err := fmt.Sscanf(strings.TrimSuffix(name, bookExt), "%016x-%016x", &start, &end); err != nil || end < start {
				j.logger.Warn("ignoring unrecognized journal file", "name", name)
				continue
			}
			books = append(books, book{start: start, end: end, path: filepath.Join(j.config.Directory, name)})
		case strings.HasSuffix(name, activeExt):
			var start uint64
			if _, err := fmt.Sscanf(strings.TrimSuffix(name, activeExt), "%016x", &start); err != nil {
				j.logger.Warn("ignoring unrecognized journal file", "name", name)
				continue
			}
			actives = append(actives, start)
		}
	}
	sort.Slice(actives, func(a, b int) bool { return actives[a] < actives[b] })

	j.activeStart, j.flushed = 0, 0
	hasActive := false
	for i, start := range actives {
		end, err := j.repairActive(start)
		if err != nil {
			return err
		}
		if i < len(actives)-1 {
			// An older active segment left behind by a failed seal.
			if readOnly {
				if end > start {
					books = append(books, book{start: start, end: end, path: j.activePath(start)})
				}
				continue
			}
			if end > start {
				to := j.bookPath(start, end)
				if err := os.Rename(j.activePath(start), to); err != nil {
					return fmt.Errorf("failed to seal stale active segment: %w", err)
				}
				books = append(books, book{start: start, end: end, path: to})
			} else {
				_ = os.Remove(j.activePath(start))
			}
			continue
		}
		j.activeStart, j.flushed = start, end
		hasActive = true
	}

	sort.Slice(books, func(a, b int) bool { return books[a].start < books[b].start })
	j.books = books

	end := j.flushed
	if n := len(books); n > 0 && books[n-1].end > end {
		end = books[n-1].end
	}
	if j.cp.Position > end {
		end = j.cp.Position
	}
	if !hasActive || end > j.flushed {
		if hasActive && j.flushed > j.activeStart && readOnly {
			j.books = append(j.books, book{start: j.activeStart, end: j.flushed, path: j.activePath(j.activeStart)})
			sort.Slice(j.books, func(a, b int) bool { return j.books[a].start < j.books[b].start })
		} else if hasActive && j.flushed > j.activeStart {
			// The active segment is behind the journal end; seal it as is.
			to := j.bookPath(j.activeStart, j.flushed)
			if err := os.Rename(j.activePath(j.activeStart), to); err == nil {
				j.books = append(j.books, book{start: j.activeStart, end: j.flushed, path: to})
				sort.Slice(j.books, func(a, b int) bool { return j.books[a].start < j.books[b].start })
			}
		} else if hasActive && !readOnly {
			_ = os.Remove(j.activePath(j.activeStart))
		}
		j.activeStart, j.flushed = end, end
	}
	j.position = j.flushed
	j.buffer = j.buffer[:0]

	j.logger.Debug("journal prepared",
		"position", j.position,
		"books", len(j.books),
		"shortcuts", len(j.cp.Shortcuts),
	)
	metrics.RecordJournalPosition(j.config.Metrics, j.position)
	return nil
}

// repairActive truncates a torn tail of an active segment and returns the
// journal position following its last whole record.
func (j *Journal) repairActive(start uint64) (uint64, error) {
	path := j.activePath(start)
	data, err := os.ReadFile(path)
	if err != nil {
		return start, fmt.Errorf("failed to read active segment: %w", err)
	}
	valid, err := ReadRecords(start, data, nil)
	if err != nil && j.config.ReadOnly {
		j.logger.Warn("ignoring torn journal tail", "segment", filepath.Base(path), "valid", valid)
	} else if err != nil {
		j.logger.Warn("truncating torn journal tail",
			"segment", filepath.Base(path),
			"valid", valid,
			"size", len(data),
		)
		if err := os.Truncate(path, int64(valid)); err != nil {
			return start, fmt.Errorf("failed to truncate active segment: %w", err)
		}
	}
	return start + uint64(valid), nil
}

// Add appends one record and returns the post-write position. Add never
// fails: disk errors degrade the journal to advisory mode.
func (j *Journal) Add(plane uint32, recordType core.RecordType, payload []byte) uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.config.ReadOnly {
		metrics.RecordJournalFailure(j.config.Metrics, "write")
		return j.position
	}

	before := len(j.buffer)
	j.buffer = appendRecord(j.buffer, plane, recordType, payload)
	j.position += uint64(len(j.buffer) - before)

	if j.position-j.activeStart > uint64(j.config.MemoryCapacity) {
		j.sealLocked()
		if j.config.Retention == RetentionEager {
			j.discardLocked()
		}
	}
	return j.position
}

// Position returns the next write position.
func (j *Journal) Position() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.position
}

// appendActiveLocked writes the buffer to the active segment file.
func (j *Journal) appendActiveLocked() bool {
	if len(j.buffer) == 0 {
		return true
	}

	f, err := os.OpenFile(j.activePath(j.activeStart), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		_, err = f.Write(j.buffer)
		if syncErr := f.Sync(); err == nil {
			err = syncErr
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		j.degradeLocked(err)
		return false
	}

	j.flushed = j.position
	j.buffer = j.buffer[:0]
	if j.degraded {
		j.logger.Info("journal writes recovered", "position", j.position)
		j.degraded = false
	}
	return true
}

// degradeLocked drops the unflushed records after a write failure. Records
// already applied in memory stay valid; only their replay is lost.
func (j *Journal) degradeLocked(err error) {
	if !j.degraded {
		j.logger.Warn("journal write failed, journal is advisory until writes recover", "error", err)
	}
	j.degraded = true
	metrics.RecordJournalFailure(j.config.Metrics, "write")

	if j.flushed > j.activeStart {
		to := j.bookPath(j.activeStart, j.flushed)
		if os.Rename(j.activePath(j.activeStart), to) == nil {
			j.books = append(j.books, book{start: j.activeStart, end: j.flushed, path: to})
		}
	}
	j.buffer = j.buffer[:0]
	j.activeStart, j.flushed = j.position, j.position
}

// sealLocked turns the active segment into an immutable book.
func (j *Journal) sealLocked() {
	if !j.appendActiveLocked() {
		return
	}
	if j.flushed == j.activeStart {
		return
	}

	to := j.bookPath(j.activeStart, j.flushed)
	if err := os.Rename(j.activePath(j.activeStart), to); err != nil {
		j.degradeLocked(err)
		return
	}
	j.books = append(j.books, book{start: j.activeStart, end: j.flushed, path: to})
	j.activeStart = j.flushed

	if len(j.books) > j.config.MaxBooks {
		j.logger.Warn("journal over capacity, waypoints must advance before books can be discarded",
			"books", len(j.books),
			"max_books", j.config.MaxBooks,
		)
	}
}

// minWaypointLocked returns the smallest position any known waypoint still needs.
func (j *Journal) minWaypointLocked() uint64 {
	limit := uint64(math.MaxUint64)
	for _, wp := range j.cp.Shortcuts {
		if wp.Position < limit {
			limit = wp.Position
		}
	}
	return limit
}

// discardLocked deletes books entirely below every known waypoint. The
// checkpoint holding those waypoints is written first: a restart must never
// see an older shortcut pointing into a deleted book.
func (j *Journal) discardLocked() int {
	if j.config.ReadOnly {
		return 0
	}
	limit := j.minWaypointLocked()
	if len(j.books) == 0 || j.books[0].end > limit {
		return 0
	}
	if err := j.cp.save(j.checkpointPath()); err != nil {
		metrics.RecordJournalFailure(j.config.Metrics, "checkpoint")
		j.logger.Warn("failed to save journal checkpoint, keeping books", "error", err)
		return 0
	}
	kept := j.books[:0]
	removed := 0
	for _, b := range j.books {
		if b.end <= limit {
			if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
				j.logger.Warn("failed to discard journal book", "book", filepath.Base(b.path), "error", err)
				kept = append(kept, b)
				continue
			}
			removed++
			continue
		}
		kept = append(kept, b)
	}
	j.books = kept
	if removed > 0 {
		j.logger.Debug("discarded journal books", "count", removed, "limit", limit)
	}
	return removed
}

// Compact deletes every book that all waypoints have passed and returns how
// many were removed. This is the only discard path under RetentionManual.
func (j *Journal) Compact(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.config.ReadOnly {
		return 0, errReadOnly
	}
	return j.discardLocked(), nil
}

// OverCapacity reports whether more books are retained than MaxBooks.
func (j *Journal) OverCapacity() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.books) > j.config.MaxBooks
}

// Flush writes buffered records and the checkpoint to disk.
func (j *Journal) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.config.ReadOnly {
		return errReadOnly
	}

	j.appendActiveLocked()
	if j.cp.Position != j.position {
		j.cp.Position = j.position
		j.cp.dirty = true
	}
	if err := j.cp.save(j.checkpointPath()); err != nil {
		metrics.RecordJournalFailure(j.config.Metrics, "checkpoint")
		return fmt.Errorf("failed to save journal checkpoint: %w", err)
	}
	if j.config.Retention == RetentionEager {
		j.discardLocked()
	}
	metrics.RecordJournalPosition(j.config.Metrics, j.position)
	return nil
}

// Close flushes the journal. A read-only journal is left untouched.
func (j *Journal) Close(ctx context.Context) error {
	if j.config.ReadOnly {
		return nil
	}
	return j.Flush(ctx)
}

// ReadJournal returns the raw record bytes starting at position up to the
// end of the segment containing it, and the position following them.
// Reading at or past the current position returns no data.
func (j *Journal) ReadJournal(ctx context.Context, position uint64) (uint64, []byte, error) {
	if err := ctx.Err(); err != nil {
		return position, nil, err
	}

	j.mu.Lock()
	if position >= j.position {
		j.mu.Unlock()
		return position, nil, nil
	}
	if position >= j.flushed {
		data := append([]byte(nil), j.buffer[position-j.flushed:]...)
		next := j.position
		j.mu.Unlock()
		return next, data, nil
	}
	if position >= j.activeStart {
		// The active file may be renamed by a seal; read it under the lock.
		defer j.mu.Unlock()
		data, err := readRange(j.activePath(j.activeStart), position-j.activeStart, j.flushed-j.activeStart)
		if err != nil {
			metrics.RecordJournalFailure(j.config.Metrics, "read")
			return position, nil, err
		}
		return j.flushed, data, nil
	}

	idx := sort.Search(len(j.books), func(i int) bool { return j.books[i].end > position })
	if idx == len(j.books) || j.books[idx].start > position {
		var first uint64
		if len(j.books) > 0 {
			first = j.books[0].start
		}
		j.mu.Unlock()
		if len(j.books) == 0 || position < first {
			return position, nil, fmt.Errorf("journal position %d already discarded: %w", position, core.ErrNotFound)
		}
		return position, nil, fmt.Errorf("journal gap at position %d: %w", position, core.ErrCorruptedData)
	}
	b := j.books[idx]
	j.mu.Unlock()

	// Books are immutable; read without holding the lock.
	data, err := readRange(b.path, position-b.start, b.end-b.start)
	if err != nil {
		metrics.RecordJournalFailure(j.config.Metrics, "read")
		return position, nil, err
	}
	return b.end, data, nil
}

func readRange(path string, from, to uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal segment: %w: %w", core.ErrCorruptedData, err)
	}
	defer f.Close()

	data := make([]byte, to-from)
	if _, err := f.ReadAt(data, int64(from)); err != nil {
		return nil, fmt.Errorf("failed to read journal segment %s: %w: %w", filepath.Base(path), core.ErrCorruptedData, err)
	}
	return data, nil
}

// ResetJournal moves the position forward to position when a snapshot is
// newer than the journal content. Positions are never moved backwards.
func (j *Journal) ResetJournal(position uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if position <= j.position || j.config.ReadOnly {
		return
	}
	j.sealLocked()
	j.logger.Info("journal reset", "from", j.position, "to", position)
	j.buffer = j.buffer[:0]
	j.position, j.activeStart, j.flushed = position, position, position
	j.cp.Position = position
	j.cp.dirty = true
}

// SetShortcut records the latest waypoint for key.
func (j *Journal) SetShortcut(key string, wp core.Waypoint) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cp.Shortcuts[key] = wp
	j.cp.dirty = true
}

// Shortcut returns the latest known waypoint for key.
func (j *Journal) Shortcut(key string) (core.Waypoint, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	wp, ok := j.cp.Shortcuts[key]
	return wp, ok
}

// RemoveShortcut forgets key, releasing the books it held.
func (j *Journal) RemoveShortcut(key string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.cp.Shortcuts[key]; ok {
		delete(j.cp.Shortcuts, key)
		j.cp.dirty = true
	}
}

// SetStats replaces the persisted per-type size statistics.
func (j *Journal) SetStats(stats map[string]float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cp.Stats = make(map[string]float64, len(stats))
	for k, v := range stats {
		j.cp.Stats[k] = v
	}
	j.cp.dirty = true
}

// Stats returns a copy of the persisted per-type size statistics.
func (j *Journal) Stats() map[string]float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]float64, len(j.cp.Stats))
	for k, v := range j.cp.Stats {
		out[k] = v
	}
	return out
}

// RunID identifies the current process run.
func (j *Journal) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cp.RunID
}

// Books returns the number of retained sealed books.
func (j *Journal) Books() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.books)
}

// Oldest returns the first position still readable.
func (j *Journal) Oldest() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.books) > 0 {
		return j.books[0].start
	}
	return j.activeStart
}

var _ core.Journal = (*Journal)(nil)
