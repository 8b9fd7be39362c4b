package crystal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/archi-Doc/CrystalData-sub001/pkg/adapters/fs"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/memory"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

const (
	defaultUnloadTimeout = 10 * time.Second
	defaultTickInterval  = time.Second
	defaultSaveBatch     = 32
	defaultEventBuffer   = 64
	saveConcurrency      = 4
)

// Config holds the configuration of a Crystalizer.
type Config struct {
	// Directory is the root of all crystal files.
	Directory string

	// BackupDirectory receives a best-effort copy of every saved crystal.
	BackupDirectory string

	// Journal configures the write-ahead journal. An empty Directory
	// disables journaling.
	Journal journal.Config

	// MemoryLimit is the storage data footprint above which eviction
	// starts. Zero disables eviction.
	MemoryLimit int64

	// ConcurrentUnloads bounds unloads in flight during eviction.
	ConcurrentUnloads int64

	// UnloadTimeout is how long contended objects are retried at shutdown
	// before being force-unloaded. Default 10s.
	UnloadTimeout time.Duration

	// TickInterval is the scheduler cadence. Default 1s.
	TickInterval time.Duration

	// SaveBatch bounds the saves performed per scheduler tick. Default 32.
	SaveBatch int

	// Query answers recovery questions. Answers are cached per condition
	// kind for the duration of a PrepareAndLoadAll.
	Query core.Query

	// EventBuffer is the capacity of the event channel. Default 64.
	EventBuffer int

	Logger  *slog.Logger
	Metrics metrics.Metrics
	Clock   core.Clock
}

// crystalNode is the type-erased view of a Crystal.
type crystalNode interface {
	Key() string
	State() State
	PrepareAndLoad(ctx context.Context, useQuery bool) error
	Save(ctx context.Context, mode core.UnloadMode) error
	Delete(ctx context.Context) error
	saveDue(now time.Time) bool
	info() CrystalState
}

// Crystalizer is the registry and orchestrator of crystals. It owns the
// filer, the journal, the memory control and the background scheduler.
type Crystalizer struct {
	config  Config
	logger  *slog.Logger
	clock   core.Clock
	metrics metrics.Metrics
	query   *core.CachedQuery

	filer   core.Filer
	backup  core.Filer
	journal core.Journal
	owned   *journal.Journal
	control *memory.Control
	worker  *scheduler

	mu         sync.Mutex
	crystals   map[string]crystalNode
	order      []string
	queue      map[string]struct{}
	queueOrder []string
	prepared   bool
	lastStats  map[string]float64

	eventsMu sync.RWMutex
	events   chan core.Event
	closed   bool
}

// New creates a Crystalizer.
func New(config Config) (*Crystalizer, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("crystalizer directory is required")
	}
	if config.UnloadTimeout <= 0 {
		config.UnloadTimeout = defaultUnloadTimeout
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaultTickInterval
	}
	if config.SaveBatch <= 0 {
		config.SaveBatch = defaultSaveBatch
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := config.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	query := config.Query
	if query == nil {
		query = core.DefaultQuery{}
	}

	cz := &Crystalizer{
		config:   config,
		logger:   logger,
		clock:    clock,
		metrics:  config.Metrics,
		query:    core.NewCachedQuery(query),
		filer:    fs.NewFiler(config.Directory, logger),
		crystals: make(map[string]crystalNode),
		queue:    make(map[string]struct{}),
		events:   make(chan core.Event, config.EventBuffer),
	}
	if config.BackupDirectory != "" {
		cz.backup = fs.NewFiler(config.BackupDirectory, logger)
	}

	if config.Journal.Directory != "" {
		jc := config.Journal
		if jc.Logger == nil {
			jc.Logger = logger
		}
		if jc.Metrics == nil {
			jc.Metrics = config.Metrics
		}
		cz.owned = journal.New(jc)
		cz.journal = cz.owned
	} else {
		cz.journal = journal.NewNull()
	}

	cz.control = memory.NewControl(memory.Config{
		MemoryLimit:       config.MemoryLimit,
		ConcurrentUnloads: config.ConcurrentUnloads,
		Logger:            logger,
		Metrics:           config.Metrics,
		Clock:             clock,
	})
	cz.worker = newScheduler(cz, config.TickInterval)
	return cz, nil
}

// Journal returns the journal shared by all crystals.
func (cz *Crystalizer) Journal() core.Journal {
	return cz.journal
}

// Memory returns the memory control.
func (cz *Crystalizer) Memory() *memory.Control {
	return cz.control
}

// Filer returns the filer rooted at the crystalizer directory.
func (cz *Crystalizer) Filer() core.Filer {
	return cz.filer
}

// Events returns the channel of crystal lifecycle events. Events are
// dropped when the buffer is full.
func (cz *Crystalizer) Events() <-chan core.Event {
	return cz.events
}

func (cz *Crystalizer) emit(t core.EventType, key string) {
	cz.eventsMu.RLock()
	defer cz.eventsMu.RUnlock()
	if cz.closed {
		return
	}
	select {
	case cz.events <- core.Event{Type: t, Key: key, Timestamp: cz.clock.Now().Unix()}:
	default:
		cz.logger.Debug("event dropped", "type", t, "key", key)
	}
}

func (cz *Crystalizer) register(c crystalNode) error {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	if _, ok := cz.crystals[c.Key()]; ok {
		return fmt.Errorf("crystal %s: %w", c.Key(), core.ErrAlreadyRegistered)
	}
	cz.crystals[c.Key()] = c
	cz.order = append(cz.order, c.Key())
	return nil
}

func (cz *Crystalizer) unregister(key string) {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	delete(cz.crystals, key)
	delete(cz.queue, key)
	for i, k := range cz.order {
		if k == key {
			cz.order = append(cz.order[:i], cz.order[i+1:]...)
			break
		}
	}
}

// nodes returns the registered crystals in registration order.
func (cz *Crystalizer) nodes() []crystalNode {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	out := make([]crystalNode, 0, len(cz.order))
	for _, k := range cz.order {
		out = append(out, cz.crystals[k])
	}
	return out
}

func (cz *Crystalizer) lookup(key string) crystalNode {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	return cz.crystals[key]
}

// Len returns the number of registered crystals.
func (cz *Crystalizer) Len() int {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	return len(cz.crystals)
}

func (cz *Crystalizer) enqueueSave(key string) {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	if _, ok := cz.queue[key]; ok {
		return
	}
	cz.queue[key] = struct{}{}
	cz.queueOrder = append(cz.queueOrder, key)
}

func (cz *Crystalizer) dequeueSaves(limit int) []string {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	if limit > len(cz.queueOrder) {
		limit = len(cz.queueOrder)
	}
	keys := append([]string(nil), cz.queueOrder[:limit]...)
	cz.queueOrder = cz.queueOrder[limit:]
	for _, k := range keys {
		delete(cz.queue, k)
	}
	return keys
}

// prepare opens the journal and restores the memory statistics once.
func (cz *Crystalizer) prepare(ctx context.Context) error {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	if cz.prepared {
		return nil
	}
	if cz.owned != nil {
		if err := cz.owned.Prepare(ctx); err != nil {
			return fmt.Errorf("failed to prepare journal: %w", err)
		}
		cz.lastStats = cz.owned.Stats()
		cz.control.LoadStats(cz.lastStats)
	}
	if f, ok := cz.filer.(*fs.Filer); ok {
		if _, err := f.CleanTemp(ctx); err != nil {
			cz.logger.Warn("failed to clean temp files", "error", err)
		}
	}
	cz.prepared = true
	return nil
}

// PrepareAndLoadAll prepares and loads every registered crystal in
// registration order.
func (cz *Crystalizer) PrepareAndLoadAll(ctx context.Context, useQuery bool) error {
	if err := cz.prepare(ctx); err != nil {
		return err
	}
	cz.query.Reset()

	var errs []error
	for _, c := range cz.nodes() {
		if err := c.PrepareAndLoad(ctx, useQuery); err != nil {
			cz.logger.Error("failed to load crystal", "crystal", c.Key(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveAll saves every crystal and flushes the journal.
func (cz *Crystalizer) SaveAll(ctx context.Context, mode core.UnloadMode) error {
	// One failing crystal must not cancel the others.
	var g errgroup.Group
	g.SetLimit(saveConcurrency)
	for _, c := range cz.nodes() {
		g.Go(func() error {
			if err := c.Save(ctx, mode); err != nil {
				cz.logger.Warn("failed to save crystal", "crystal", c.Key(), "error", err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if ferr := cz.flushJournal(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return err
}

// UnloadAll saves and unloads every crystal, then drains the storage data
// still held, force-unloading what stays contended past UnloadTimeout.
func (cz *Crystalizer) UnloadAll(ctx context.Context) error {
	err := cz.SaveAll(ctx, core.TryUnload)
	if derr := cz.control.Drain(ctx, cz.config.UnloadTimeout); derr != nil {
		err = errors.Join(err, derr)
	}
	if ferr := cz.flushJournal(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return err
}

// DeleteAll deletes every crystal with its files and storage.
func (cz *Crystalizer) DeleteAll(ctx context.Context) error {
	var errs []error
	for _, c := range cz.nodes() {
		if err := c.Delete(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flushJournal persists the memory statistics and flushes the journal.
func (cz *Crystalizer) flushJournal(ctx context.Context) error {
	if cz.owned == nil {
		return nil
	}
	stats := cz.control.Stats()
	cz.mu.Lock()
	changed := !maps.Equal(stats, cz.lastStats)
	if changed {
		cz.lastStats = stats
	}
	cz.mu.Unlock()
	if changed {
		cz.owned.SetStats(stats)
	}
	return cz.owned.Flush(ctx)
}

// tick is one scheduler iteration.
func (cz *Crystalizer) tick(ctx context.Context) {
	cz.control.Evict(ctx)

	budget := cz.config.SaveBatch
	for _, key := range cz.dequeueSaves(budget) {
		if ctx.Err() != nil {
			return
		}
		budget--
		if c := cz.lookup(key); c != nil {
			if err := c.Save(ctx, core.NoUnload); err != nil {
				cz.logger.Warn("queued save failed", "crystal", key, "error", err)
			}
		}
	}

	now := cz.clock.Now()
	for _, c := range cz.nodes() {
		if budget <= 0 || ctx.Err() != nil {
			break
		}
		if c.saveDue(now) {
			budget--
			if err := c.Save(ctx, core.NoUnload); err != nil {
				cz.logger.Warn("periodic save failed", "crystal", c.Key(), "error", err)
			}
		}
	}

	if err := cz.flushJournal(ctx); err != nil {
		cz.logger.Warn("journal flush failed", "error", err)
	}
	if cz.owned != nil && cz.owned.OverCapacity() {
		cz.logger.Info("journal over capacity, saving all crystals")
		if err := cz.SaveAll(ctx, core.NoUnload); err != nil {
			cz.logger.Warn("save for journal compaction failed", "error", err)
		}
		if n, err := cz.owned.Compact(ctx); err == nil && n > 0 {
			cz.logger.Debug("journal compacted", "books", n)
		}
	}
}

// Start launches the background scheduler.
func (cz *Crystalizer) Start(ctx context.Context) error {
	return cz.worker.Start(ctx)
}

// Shutdown stops the scheduler, saves and unloads everything, drains
// contended storage data and closes the journal and the event channel.
func (cz *Crystalizer) Shutdown(ctx context.Context) error {
	var errs []error
	if cz.worker.running() {
		if err := cz.worker.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
		}
	}

	errs = append(errs, cz.UnloadAll(ctx))
	if cz.owned != nil {
		errs = append(errs, cz.owned.Close(ctx))
	}

	cz.eventsMu.Lock()
	if !cz.closed {
		cz.closed = true
		close(cz.events)
	}
	cz.eventsMu.Unlock()

	return errors.Join(errs...)
}
