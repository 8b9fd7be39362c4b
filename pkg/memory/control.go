// Package memory tracks the estimated in-memory footprint of storage-backed
// objects and evicts the least recently used ones under pressure.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/aretw0/lifecycle"
	"golang.org/x/sync/semaphore"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

const defaultConcurrentUnloads = 4

// Object is a storage-backed object whose state can be released.
// A successful unload must be reported back through Control.ReportUnloaded.
type Object interface {
	// TryUnload saves and releases the state. It returns core.ErrDataIsLocked
	// while the application holds the object.
	TryUnload(ctx context.Context) error

	// ForceUnload saves and releases the state regardless of application locks.
	ForceUnload(ctx context.Context) error
}

// Hinter is implemented by objects that can be told a forced unload is
// imminent, so the holder can release its lock early.
type Hinter interface {
	HintForceUnload()
}

// Config holds the configuration of a Control.
type Config struct {
	// MemoryLimit is the usage above which eviction starts. Zero disables eviction.
	MemoryLimit int64

	// ConcurrentUnloads bounds the number of unloads in flight. Default 4.
	ConcurrentUnloads int64

	Logger  *slog.Logger
	Metrics metrics.Metrics
	Clock   core.Clock
}

type item struct {
	obj     Object
	size    int64
	typeKey string
	prev    *item
	next    *item
}

// Control is the memory accounting and eviction queue.
type Control struct {
	mu    sync.Mutex
	items map[Object]*item
	head  *item // least recently used
	tail  *item
	usage int64
	stats map[string]*stat

	limit   int64
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics metrics.Metrics
	clock   core.Clock
}

// NewControl creates a Control.
func NewControl(config Config) *Control {
	if config.ConcurrentUnloads <= 0 {
		config.ConcurrentUnloads = defaultConcurrentUnloads
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := config.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Control{
		items:   make(map[Object]*item),
		stats:   make(map[string]*stat),
		limit:   config.MemoryLimit,
		sem:     semaphore.NewWeighted(config.ConcurrentUnloads),
		logger:  logger.With("component", "memory"),
		metrics: config.Metrics,
		clock:   clock,
	}
}

func typeKey(obj Object) string {
	return fmt.Sprintf("%T", obj)
}

func (c *Control) unlinkLocked(it *item) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

func (c *Control) pushTailLocked(it *item) {
	it.prev = c.tail
	it.next = nil
	if c.tail != nil {
		c.tail.next = it
	} else {
		c.head = it
	}
	c.tail = it
}

// Register tracks obj with size bytes, or with the per-type estimate when
// size is not positive. Registering a tracked object marks it as most
// recently used and updates its size.
func (c *Control) Register(obj Object, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := typeKey(obj)
	if size <= 0 {
		s, ok := c.stats[key]
		if !ok {
			s = &stat{}
			c.stats[key] = s
		}
		size = s.estimate()
	}

	if it, ok := c.items[obj]; ok {
		c.usage += size - it.size
		it.size = size
		c.unlinkLocked(it)
		c.pushTailLocked(it)
	} else {
		it := &item{obj: obj, size: size, typeKey: key}
		c.items[obj] = it
		c.pushTailLocked(it)
		c.usage += size
	}
	metrics.RecordMemoryUsage(c.metrics, c.usage)
}

// ReportUnloaded removes obj from tracking and feeds actualSize into the
// moving average of its type.
func (c *Control) ReportUnloaded(obj Object, actualSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := typeKey(obj)
	if actualSize > 0 {
		s, ok := c.stats[key]
		if !ok {
			s = &stat{}
			c.stats[key] = s
		}
		s.add(actualSize)
	}
	c.removeLocked(obj)
}

// Unregister removes obj from tracking without sampling its size.
func (c *Control) Unregister(obj Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(obj)
}

func (c *Control) removeLocked(obj Object) {
	it, ok := c.items[obj]
	if !ok {
		return
	}
	c.unlinkLocked(it)
	delete(c.items, obj)
	c.usage -= it.size
	metrics.RecordMemoryUsage(c.metrics, c.usage)
}

// Contains reports whether obj is tracked.
func (c *Control) Contains(obj Object) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[obj]
	return ok
}

// MemoryUsage returns the sum of the sizes of all tracked objects.
func (c *Control) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Len returns the number of tracked objects.
func (c *Control) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Limit returns the configured memory limit.
func (c *Control) Limit() int64 {
	return c.limit
}

// Objects returns the tracked objects, least recently used first.
func (c *Control) Objects() []Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Object, 0, len(c.items))
	for it := c.head; it != nil; it = it.next {
		out = append(out, it.obj)
	}
	return out
}

// Estimate returns the size that would be recorded for an object of the
// same type as obj registered without a hint.
func (c *Control) Estimate(obj Object) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stats[typeKey(obj)]; ok {
		return s.estimate()
	}
	return minimumEstimate
}

// Stats returns the moving-average accumulators keyed by type.
func (c *Control) Stats() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.stats))
	for k, s := range c.stats {
		out[k] = s.acc
	}
	return out
}

// LoadStats restores accumulators saved by Stats.
func (c *Control) LoadStats(stats map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, acc := range stats {
		c.stats[k] = &stat{acc: acc, samples: 1}
	}
}

// Evict runs one eviction pass. While usage is above the limit, the least
// recently used object is moved to the tail and asked to unload. Unloads run
// concurrently, bounded by ConcurrentUnloads; the pass waits for them and
// returns the number of successful unloads. Objects that fail stay queued
// for the next pass.
func (c *Control) Evict(ctx context.Context) int {
	if c.limit <= 0 {
		return 0
	}

	c.mu.Lock()
	pending := len(c.items)
	c.mu.Unlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		unloaded int
		planned  int64
	)
	for i := 0; i < pending; i++ {
		if ctx.Err() != nil {
			break
		}

		c.mu.Lock()
		if c.usage-planned <= c.limit || c.head == nil {
			c.mu.Unlock()
			break
		}
		it := c.head
		c.unlinkLocked(it)
		c.pushTailLocked(it)
		obj, size := it.obj, it.size
		planned += size
		c.mu.Unlock()

		if err := c.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		lifecycle.Go(ctx, func(ctx context.Context) error {
			defer wg.Done()
			defer c.sem.Release(1)

			err := obj.TryUnload(ctx)
			switch {
			case err == nil:
				mu.Lock()
				unloaded++
				mu.Unlock()
				metrics.RecordEviction(c.metrics, "unloaded")
			case errors.Is(err, core.ErrDataIsLocked):
				metrics.RecordEviction(c.metrics, "locked")
			default:
				c.logger.Warn("eviction failed", "type", typeKey(obj), "error", err)
				metrics.RecordEviction(c.metrics, "failed")
			}
			return nil
		}, lifecycle.WithErrorHandler(func(err error) {
			c.logger.Error("eviction panic", "type", typeKey(obj), "error", err)
		}))
	}
	wg.Wait()

	if unloaded > 0 {
		c.logger.Debug("eviction pass", "unloaded", unloaded, "usage", c.MemoryUsage(), "limit", c.limit)
	}
	return unloaded
}
