// Package crystal implements crystals, the persistence units wrapping one
// root object each, and the Crystalizer orchestrating them.
package crystal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

// State is the lifecycle state of a crystal.
type State int32

const (
	StateNotPrepared State = iota
	StatePreparing
	StatePrepared
	StateSaving
	StateUnloaded
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateSaving:
		return "saving"
	case StateUnloaded:
		return "unloaded"
	case StateDeleted:
		return "deleted"
	default:
		return "not-prepared"
	}
}

// Replayer is implemented by root objects that apply their own journal
// records, written with Crystal.AddJournal, when loading.
type Replayer interface {
	Replay(recordType core.RecordType, payload []byte) error
}

// updateAttempts bounds retries when an unload races an Update.
const updateAttempts = 3

// Crystal is one persistence unit wrapping a root object of type T.
type Crystal[T any] struct {
	mu     sync.Mutex   // serializes load, save and delete
	dataMu sync.RWMutex // guards data and binding

	cz          *Crystalizer
	key         string
	config      Configuration
	serializer  Serializer[T]
	reconstruct func() *T
	plane       uint32
	logger      *slog.Logger

	state     atomic.Int32
	dirty     atomic.Bool
	journaled atomic.Bool // plane records added since the last save

	data            *T
	binding         *Binding
	waypoint        core.Waypoint
	obsolete        bool
	storagePrepared bool
	lastSave        time.Time
}

// Register creates a crystal for key and adds it to cz. An empty key
// defaults to the configured path.
func Register[T any](cz *Crystalizer, key string, config Configuration, opts ...Option[T]) (*Crystal[T], error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	if key == "" {
		key = config.Path
	}

	c := &Crystal[T]{
		cz:          cz,
		key:         key,
		config:      config,
		plane:       uint32(xxhash.Sum64String(key)),
		logger:      cz.logger.With("crystal", key),
		reconstruct: func() *T { return new(T) },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.serializer == nil {
		c.serializer = DefaultSerializer[T](config.Format, config.Path)
	}

	if err := cz.register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Key returns the registration key.
func (c *Crystal[T]) Key() string {
	return c.key
}

// State returns the lifecycle state.
func (c *Crystal[T]) State() State {
	return State(c.state.Load())
}

func (c *Crystal[T]) setState(s State) {
	c.state.Store(int32(s))
}

// Waypoint returns the last confirmed persisted point.
func (c *Crystal[T]) Waypoint() core.Waypoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waypoint
}

// Configuration returns the crystal configuration.
func (c *Crystal[T]) Configuration() Configuration {
	return c.config
}

func (c *Crystal[T]) historyPath(i int) string {
	return fmt.Sprintf("%s.%d", c.config.Path, i)
}

func (c *Crystal[T]) backupPath() string {
	if c.config.BackupPath != "" {
		return c.config.BackupPath
	}
	return c.config.Path
}

// PrepareAndLoad resolves the storage and journal, reads the persisted state
// and replays newer journal records. With useQuery, missing or inconsistent
// data is escalated to the recovery query.
func (c *Crystal[T]) PrepareAndLoad(ctx context.Context, useQuery bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepareAndLoadLocked(ctx, useQuery)
}

func (c *Crystal[T]) prepareAndLoadLocked(ctx context.Context, useQuery bool) error {
	switch c.State() {
	case StateDeleted:
		return fmt.Errorf("crystal %s: %w", c.key, core.ErrDeleted)
	case StatePrepared:
		return nil
	}
	if c.obsolete {
		return fmt.Errorf("crystal %s: %w", c.key, core.ErrDataIsObsolete)
	}
	if err := c.cz.prepare(ctx); err != nil {
		return err
	}
	c.setState(StatePreparing)

	j := c.cz.journal
	if err := c.prepareStorageLocked(ctx, useQuery); err != nil {
		c.setState(StateNotPrepared)
		return err
	}

	data, wp, err := c.load(ctx, useQuery)
	if err != nil {
		c.setState(StateNotPrepared)
		return err
	}
	// A save that found the content unchanged only moved the shortcut.
	if sc, ok := j.Shortcut(c.key); ok && sc.Hash == wp.Hash && sc.Position > wp.Position {
		wp.Position = sc.Position
	}

	if wp.Position > j.Position() {
		c.logger.Warn("crystal is newer than the journal, advancing journal",
			"waypoint", wp,
			"journal", j.Position(),
		)
		j.ResetJournal(wp.Position)
	}

	if err := c.replay(ctx, data, wp.Position); err != nil {
		if useQuery && c.cz.query.InconsistentJournal(ctx, c.key) == core.Abort {
			c.obsolete = true
			c.setState(StateNotPrepared)
			return fmt.Errorf("crystal %s: %w: %w", c.key, core.ErrDataIsObsolete, err)
		}
		c.logger.Warn("journal replay failed, keeping best-known state", "error", err)
	}

	// Pin the journal from the waypoint until the next save.
	j.SetShortcut(c.key, wp)

	binding := newBinding(c.config.Storage, c.cz.control, c.config.Format, c.logger)
	c.dataMu.Lock()
	c.data = data
	c.binding = binding
	c.dataMu.Unlock()
	if b, ok := any(data).(Bindable); ok {
		b.Bind(binding)
	}

	c.waypoint = wp
	c.lastSave = c.cz.clock.Now()
	c.setState(StatePrepared)
	c.cz.emit(core.EventLoaded, c.key)
	return nil
}

func (c *Crystal[T]) storageKey() string {
	return c.key + "#storage"
}

func (c *Crystal[T]) prepareStorageLocked(ctx context.Context, useQuery bool) error {
	if c.storagePrepared {
		return nil
	}
	params := core.StorageParams{
		Key:      c.storageKey(),
		Journal:  c.cz.journal,
		Query:    c.cz.query,
		UseQuery: useQuery,
		Logger:   c.logger,
	}
	if err := c.config.Storage.Prepare(ctx, params); err != nil {
		return fmt.Errorf("crystal %s: failed to prepare storage: %w", c.key, err)
	}
	c.storagePrepared = true
	return nil
}

// load reads the primary file, then the history copies and the backup.
func (c *Crystal[T]) load(ctx context.Context, useQuery bool) (*T, core.Waypoint, error) {
	if c.config.SavePolicy == core.SaveVolatile {
		return c.fresh()
	}

	raw, err := c.cz.filer.Read(ctx, c.config.Path)
	if err == nil {
		data, wp, derr := c.decode(raw)
		if derr == nil {
			return data, wp, nil
		}
		c.logger.Warn("primary file unreadable", "path", c.config.Path, "error", derr)
		err = derr
	}
	primaryErr := err

	type candidate struct {
		filer core.Filer
		path  string
	}
	var candidates []candidate
	for i := 0; i < c.config.NumberOfFileHistories; i++ {
		candidates = append(candidates, candidate{c.cz.filer, c.historyPath(i)})
	}
	if c.cz.backup != nil {
		candidates = append(candidates, candidate{c.cz.backup, c.backupPath()})
	}

	found := false
	asked := false
	for _, cand := range candidates {
		raw, err := cand.filer.Read(ctx, cand.path)
		if err != nil {
			continue
		}
		found = true
		if useQuery && !asked {
			asked = true
			if c.cz.query.LoadBackup(ctx, c.key, cand.path) != core.Yes {
				c.logger.Info("loading from backup declined", "path", cand.path)
				break
			}
		}
		data, wp, derr := c.decode(raw)
		if derr != nil {
			c.logger.Warn("fallback file unreadable", "path", cand.path, "error", derr)
			continue
		}
		c.logger.Warn("loaded crystal from fallback", "path", cand.path, "waypoint", wp)
		return data, wp, nil
	}

	if !found && !errors.Is(primaryErr, core.ErrNotFound) {
		c.logger.Warn("no readable crystal file", "error", primaryErr)
	}
	if c.config.RequiredForLoading && useQuery {
		if c.cz.query.NoData(ctx, c.key) == core.Abort {
			return nil, core.Waypoint{}, fmt.Errorf("crystal %s: %w", c.key, core.ErrNotFound)
		}
	}
	return c.fresh()
}

// fresh returns a default instance. Its waypoint resumes from a shortcut
// left by a previous run so that journal records are not lost.
func (c *Crystal[T]) fresh() (*T, core.Waypoint, error) {
	wp := core.Waypoint{Position: c.cz.journal.Position()}
	if sc, ok := c.cz.journal.Shortcut(c.key); ok {
		wp.Position = sc.Position
	}
	return c.reconstruct(), wp, nil
}

func (c *Crystal[T]) decode(raw []byte) (*T, core.Waypoint, error) {
	wp, payload, err := decodeFile(c.config.Format, raw)
	if err != nil {
		return nil, wp, err
	}
	data := c.reconstruct()
	if err := c.serializer.Deserialize(payload, data); err != nil {
		return nil, wp, err
	}
	return data, wp, nil
}

func (c *Crystal[T]) replay(ctx context.Context, data *T, from uint64) error {
	r, ok := any(data).(Replayer)
	n := 0
	_, err := journal.Replay(ctx, c.cz.journal, from, c.plane, func(rec journal.Record) error {
		n++
		if !ok {
			return nil
		}
		return r.Replay(rec.Type, rec.Payload)
	})
	if n > 0 {
		c.journaled.Store(true)
		c.logger.Debug("replayed journal records", "records", n, "from", from)
	}
	return err
}

// ensureLoaded loads the crystal on first access or after an unload.
func (c *Crystal[T]) ensureLoaded(ctx context.Context) error {
	switch c.State() {
	case StatePrepared, StateSaving:
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepareAndLoadLocked(ctx, false)
}

// Data returns the root object, loading it when needed. The object is
// shared: mutate it through Update so saves observe a consistent state.
func (c *Crystal[T]) Data(ctx context.Context) (*T, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		if err := c.ensureLoaded(ctx); err != nil {
			return nil, err
		}
		c.dataMu.RLock()
		data := c.data
		c.dataMu.RUnlock()
		if data != nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("crystal %s: %w", c.key, core.ErrNotPrepared)
}

// View runs fn with shared access to the root object.
func (c *Crystal[T]) View(ctx context.Context, fn func(*T) error) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		if err := c.ensureLoaded(ctx); err != nil {
			return err
		}
		c.dataMu.RLock()
		if c.data == nil {
			c.dataMu.RUnlock()
			continue
		}
		err := fn(c.data)
		c.dataMu.RUnlock()
		return err
	}
	return fmt.Errorf("crystal %s: %w", c.key, core.ErrNotPrepared)
}

// Update runs fn with exclusive access to the root object and marks the
// crystal dirty when fn succeeds. Journal records describing the change
// should be added from within fn.
func (c *Crystal[T]) Update(ctx context.Context, fn func(*T) error) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		if err := c.ensureLoaded(ctx); err != nil {
			return err
		}
		c.dataMu.Lock()
		if c.data == nil {
			c.dataMu.Unlock()
			continue
		}
		err := fn(c.data)
		if err == nil {
			c.dirty.Store(true)
		}
		c.dataMu.Unlock()
		if err != nil {
			return err
		}
		c.afterChange()
		return nil
	}
	return fmt.Errorf("crystal %s: %w", c.key, core.ErrNotPrepared)
}

// MarkDirty flags the crystal as changed and queues a save under SaveOnChanged.
func (c *Crystal[T]) MarkDirty() {
	c.dirty.Store(true)
	c.afterChange()
}

func (c *Crystal[T]) afterChange() {
	if c.config.SavePolicy == core.SaveOnChanged {
		c.cz.enqueueSave(c.key)
	}
}

// Dirty reports whether the crystal changed since the last save.
func (c *Crystal[T]) Dirty() bool {
	return c.dirty.Load()
}

// AddJournal appends a record to the crystal's journal plane and returns the
// post-write position. The record is replayed through Replayer on the next
// load if the crystal is not saved before.
func (c *Crystal[T]) AddJournal(recordType core.RecordType, payload []byte) uint64 {
	pos := c.cz.journal.Add(c.plane, recordType, payload)
	c.journaled.Store(true)
	return pos
}

// Save writes the crystal through the filer and advances its waypoint.
// Bound storage data is saved first. With an unload mode the in-memory
// state is released afterwards.
func (c *Crystal[T]) Save(ctx context.Context, mode core.UnloadMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked(ctx, mode)
}

func (c *Crystal[T]) saveLocked(ctx context.Context, mode core.UnloadMode) error {
	switch c.State() {
	case StateDeleted:
		return fmt.Errorf("crystal %s: %w", c.key, core.ErrDeleted)
	case StatePrepared:
	default:
		// Nothing in memory.
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.setState(StateSaving)
	if err := c.persistLocked(ctx, mode); err != nil {
		c.setState(StatePrepared)
		return err
	}

	if mode == core.NoUnload {
		c.setState(StatePrepared)
		return nil
	}
	c.dataMu.Lock()
	c.data = nil
	c.binding = nil
	c.dataMu.Unlock()
	c.setState(StateUnloaded)
	c.cz.emit(core.EventUnloaded, c.key)
	return nil
}

func (c *Crystal[T]) persistLocked(ctx context.Context, mode core.UnloadMode) error {
	c.dataMu.RLock()
	binding := c.binding
	c.dataMu.RUnlock()
	if binding != nil {
		if err := binding.saveAll(ctx, mode); err != nil {
			return fmt.Errorf("crystal %s: failed to save storage data: %w", c.key, err)
		}
	}
	if err := c.config.Storage.Save(ctx); err != nil {
		return fmt.Errorf("crystal %s: failed to save storage: %w", c.key, err)
	}
	if c.config.SavePolicy == core.SaveVolatile {
		c.dirty.Store(false)
		c.journaled.Store(false)
		c.advanceShortcutLocked(c.cz.journal.Position())
		return nil
	}

	start := c.cz.clock.Now()
	c.dataMu.RLock()
	payload, err := c.serializer.Serialize(c.data)
	position := c.cz.journal.Position()
	dirty := c.dirty.Swap(false)
	journaled := c.journaled.Swap(false)
	c.dataMu.RUnlock()
	if err != nil {
		c.restoreFlags(dirty, journaled)
		return fmt.Errorf("crystal %s: %w", c.key, err)
	}

	hash := xxhash.Sum64(payload)
	if hash == c.waypoint.Hash && !journaled {
		c.advanceShortcutLocked(position)
		return nil
	}

	wp := core.Waypoint{Position: position, Hash: hash}
	file := encodeFile(c.config.Format, wp, payload)
	if err := c.writeWithHistory(ctx, file); err != nil {
		c.restoreFlags(dirty, journaled)
		return fmt.Errorf("crystal %s: %w", c.key, err)
	}
	if c.cz.backup != nil {
		if err := c.cz.backup.Write(ctx, c.backupPath(), file); err != nil {
			c.logger.Warn("backup write failed", "path", c.backupPath(), "error", err)
		}
	}

	c.waypoint = wp
	c.cz.journal.SetShortcut(c.key, wp)
	c.lastSave = c.cz.clock.Now()

	metrics.ObserveSave(c.cz.metrics, c.key, len(file), c.lastSave.Sub(start))
	c.logger.Debug("crystal saved", "waypoint", wp, "bytes", len(file))
	c.cz.emit(core.EventSaved, c.key)
	return nil
}

// advanceShortcutLocked moves the journal shortcut to position while the
// saved content stays valid. No record of this crystal lies in between, so
// the books before position are released.
func (c *Crystal[T]) advanceShortcutLocked(position uint64) {
	if position <= c.waypoint.Position {
		return
	}
	c.waypoint.Position = position
	c.cz.journal.SetShortcut(c.key, c.waypoint)
}

func (c *Crystal[T]) restoreFlags(dirty, journaled bool) {
	if dirty {
		c.dirty.Store(true)
	}
	if journaled {
		c.journaled.Store(true)
	}
}

// writeWithHistory replaces the primary file, shifting the previous versions
// into the numbered history files. The primary is never left missing: the
// new content is staged first and the shift is undone if the final rename
// fails.
func (c *Crystal[T]) writeWithHistory(ctx context.Context, file []byte) error {
	f := c.cz.filer
	n := c.config.NumberOfFileHistories
	if n <= 0 {
		return f.Write(ctx, c.config.Path, file)
	}

	staged := c.config.Path + ".new"
	if err := f.Write(ctx, staged, file); err != nil {
		return err
	}

	for i := n - 1; i > 0; i-- {
		if err := f.Rename(ctx, c.historyPath(i-1), c.historyPath(i)); err != nil && !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("failed to rotate history file", "path", c.historyPath(i-1), "error", err)
		}
	}
	shifted := true
	if err := f.Rename(ctx, c.config.Path, c.historyPath(0)); err != nil {
		shifted = false
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("failed to rotate primary file", "error", err)
		}
	}

	if err := f.Rename(ctx, staged, c.config.Path); err != nil {
		if shifted {
			if rerr := f.Rename(ctx, c.historyPath(0), c.config.Path); rerr != nil {
				c.logger.Error("failed to restore primary file", "error", rerr)
			}
		}
		_ = f.Delete(ctx, staged)
		return err
	}
	return nil
}

// Delete removes every file of the crystal and its storage blobs, and
// detaches it from the journal and the crystalizer.
func (c *Crystal[T]) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateDeleted {
		return nil
	}

	var errs []error
	c.dataMu.Lock()
	binding := c.binding
	c.data = nil
	c.binding = nil
	c.dataMu.Unlock()
	if binding != nil {
		errs = append(errs, binding.removeAll(ctx))
	}
	// Storage written by an earlier run is opened just to be removed.
	if !c.storagePrepared {
		if err := c.cz.prepare(ctx); err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, c.prepareStorageLocked(ctx, false))
		}
	}
	if c.storagePrepared {
		errs = append(errs, c.config.Storage.DeleteAll(ctx))
		c.storagePrepared = false
	}
	c.cz.journal.RemoveShortcut(c.storageKey())

	if c.config.Path != "" {
		f := c.cz.filer
		errs = append(errs, f.Delete(ctx, c.config.Path), f.Delete(ctx, c.config.Path+".new"))
		for i := 0; i < c.config.NumberOfFileHistories; i++ {
			errs = append(errs, f.Delete(ctx, c.historyPath(i)))
		}
		if c.cz.backup != nil {
			if err := c.cz.backup.Delete(ctx, c.backupPath()); err != nil {
				c.logger.Warn("failed to delete backup", "error", err)
			}
		}
	}

	c.cz.journal.RemoveShortcut(c.key)
	c.setState(StateDeleted)
	c.cz.unregister(c.key)
	c.cz.emit(core.EventDeleted, c.key)
	return errors.Join(errs...)
}

// saveDue reports whether a periodic save is due.
func (c *Crystal[T]) saveDue(now time.Time) bool {
	if c.config.SavePolicy != core.SavePeriodic || c.State() != StatePrepared {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSave) >= c.config.SaveInterval
}

func (c *Crystal[T]) info() CrystalState {
	c.mu.Lock()
	wp := c.waypoint
	c.mu.Unlock()
	return CrystalState{
		Key:      c.key,
		Path:     c.config.Path,
		State:    c.State().String(),
		Policy:   c.config.SavePolicy.String(),
		Format:   c.config.Format.String(),
		Waypoint: wp.String(),
		Dirty:    c.dirty.Load(),
	}
}
