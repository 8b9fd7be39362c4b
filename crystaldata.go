package crystaldata

import (
	"log/slog"
	"time"

	"github.com/archi-Doc/CrystalData-sub001/internal/platform"
	"github.com/archi-Doc/CrystalData-sub001/pkg/adapters/fs"
	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/crystal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

// --- Types ---

// Crystalizer is a public alias for the crystal registry and orchestrator.
type Crystalizer = crystal.Crystalizer

// Crystal is a public alias for one persistence unit.
type Crystal[T any] = crystal.Crystal[T]

// Configuration is a public alias for the per-crystal configuration.
type Configuration = crystal.Configuration

// StorageData is a public alias for a lazily loaded child object.
type StorageData[T any] = crystal.StorageData[T]

// Binding is a public alias passed to Bindable root objects.
type Binding = crystal.Binding

// Save formats and policies.
const (
	FormatBinary = core.FormatBinary
	FormatUtf8   = core.FormatUtf8

	SaveManual    = core.SaveManual
	SavePeriodic  = core.SavePeriodic
	SaveOnChanged = core.SaveOnChanged
	SaveVolatile  = core.SaveVolatile

	NoUnload    = core.NoUnload
	TryUnload   = core.TryUnload
	ForceUnload = core.ForceUnload
)

// --- Configuration ---

// Option defines a functional option for configuring a Crystalizer.
type Option = platform.Option

// WithConfig uses a loaded configuration file.
func WithConfig(cfg *config.Config) Option {
	return platform.WithConfig(cfg)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return platform.WithMetrics(m)
}

// WithQuery sets the recovery query.
func WithQuery(q core.Query) Option {
	return platform.WithQuery(q)
}

// WithMemoryLimit sets the eviction threshold in bytes.
func WithMemoryLimit(limit int64) Option {
	return platform.WithMemoryLimit(limit)
}

// WithoutJournal runs without a write-ahead journal.
func WithoutJournal() Option {
	return platform.WithoutJournal()
}

// WithBackupDirectory mirrors every saved crystal into dir.
func WithBackupDirectory(dir string) Option {
	return platform.WithBackupDirectory(dir)
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithTickInterval sets the scheduler cadence.
func WithTickInterval(d time.Duration) Option {
	return platform.WithTickInterval(d)
}

// WithUnloadTimeout sets the forced-unload deadline at shutdown.
func WithUnloadTimeout(d time.Duration) Option {
	return platform.WithUnloadTimeout(d)
}

// --- Factory ---

// New creates a Crystalizer rooted at dir.
func New(dir string, opts ...Option) (*Crystalizer, error) {
	return platform.New(dir, opts...)
}

// Register creates a crystal for key in cz.
func Register[T any](cz *Crystalizer, key string, config Configuration, opts ...crystal.Option[T]) (*Crystal[T], error) {
	return crystal.Register(cz, key, config, opts...)
}

// NewStorage creates a directory-backed storage for StorageData children.
func NewStorage(dir string, logger *slog.Logger) core.Storage {
	return fs.NewStorage(fs.StorageConfig{Directory: dir, Logger: logger})
}

// --- Utils ---

// FindRoot looks upwards for a data directory.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
