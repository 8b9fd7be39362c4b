package config

import (
	"path/filepath"
	"time"

	"github.com/archi-Doc/CrystalData-sub001/internal/bytesize"
)

const (
	DefaultJournalCapacity   = 4 * bytesize.MiB
	DefaultMaxBooks          = 64
	DefaultConcurrentUnloads = 4
	DefaultUnloadTimeout     = 10 * time.Second
	DefaultTickInterval      = time.Second
	DefaultSaveBatch         = 32
)

// ApplyDefaults fills the zero values of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Journal.Directory == "" {
		cfg.Journal.Directory = filepath.Join(cfg.Directory, "journal")
	}
	if cfg.Journal.MemoryCapacity == 0 {
		cfg.Journal.MemoryCapacity = DefaultJournalCapacity
	}
	if cfg.Journal.MaxBooks == 0 {
		cfg.Journal.MaxBooks = DefaultMaxBooks
	}
	if cfg.Journal.Retention == "" {
		cfg.Journal.Retention = "eager"
	}

	if cfg.Memory.ConcurrentUnloads == 0 {
		cfg.Memory.ConcurrentUnloads = DefaultConcurrentUnloads
	}
	if cfg.Memory.UnloadTimeout == 0 {
		cfg.Memory.UnloadTimeout = DefaultUnloadTimeout
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "fs"
	}
	if cfg.Storage.Directory == "" {
		cfg.Storage.Directory = filepath.Join(cfg.Directory, "storage")
	}

	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = DefaultTickInterval
	}
	if cfg.Scheduler.SaveBatch == 0 {
		cfg.Scheduler.SaveBatch = DefaultSaveBatch
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Default returns the configuration for directory with every default applied.
func Default(directory string) *Config {
	cfg := &Config{Directory: directory}
	ApplyDefaults(cfg)
	return cfg
}
