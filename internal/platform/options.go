package platform

import (
	"log/slog"
	"time"

	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

// options holds the internal configuration of a Crystalizer built by New.
type options struct {
	config  *config.Config
	logger  *slog.Logger
	metrics metrics.Metrics
	query   core.Query
	clock   core.Clock

	memoryLimit   *int64
	noJournal     bool
	backup        string
	eventBuffer   int
	tickInterval  time.Duration
	unloadTimeout time.Duration
}

// Option defines a functional option for configuring a Crystalizer.
type Option func(*options)

func defaultOptions() *options {
	return &options{}
}

// WithConfig uses a loaded configuration file instead of the defaults.
// The directory given to New still takes precedence when not empty.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink, e.g. a prometheus.Metrics.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithQuery sets the recovery query consulted on missing or inconsistent data.
func WithQuery(q core.Query) Option {
	return func(o *options) {
		o.query = q
	}
}

// WithClock replaces the wall clock (useful for testing).
func WithClock(c core.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithMemoryLimit sets the storage data footprint above which eviction
// starts. Zero disables eviction.
func WithMemoryLimit(limit int64) Option {
	return func(o *options) {
		o.memoryLimit = &limit
	}
}

// WithoutJournal runs without a write-ahead journal.
func WithoutJournal() Option {
	return func(o *options) {
		o.noJournal = true
	}
}

// WithBackupDirectory mirrors every saved crystal into dir.
func WithBackupDirectory(dir string) Option {
	return func(o *options) {
		o.backup = dir
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithTickInterval sets the scheduler cadence.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		o.tickInterval = d
	}
}

// WithUnloadTimeout sets how long contended storage data is retried at
// shutdown before being force-unloaded.
func WithUnloadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.unloadTimeout = d
	}
}
