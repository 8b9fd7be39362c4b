package platform

import (
	"os"
	"path/filepath"

	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
	"github.com/archi-Doc/CrystalData-sub001/pkg/crystal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
)

// New creates a Crystalizer rooted at dir.
//
//	cz, err := crystaldata.New("./data", crystaldata.WithMemoryLimit(64<<20))
func New(dir string, opts ...Option) (*crystal.Crystalizer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	var cfg *config.Config
	if o.config != nil {
		c := *o.config
		if dir != "" && dir != c.Directory {
			c.Directory = dir
			c.Journal.Directory = filepath.Join(dir, "journal")
			c.Storage.Directory = filepath.Join(dir, "storage")
		}
		cfg = &c
	} else {
		cfg = config.Default(dir)
	}

	logger := o.logger
	if logger == nil && o.config != nil {
		logger = cfg.Logging.NewLogger(os.Stderr)
	}

	cc, err := cfg.Crystalizer(logger, o.metrics)
	if err != nil {
		return nil, err
	}

	if o.noJournal {
		cc.Journal = journal.Config{}
	}
	if o.memoryLimit != nil {
		cc.MemoryLimit = *o.memoryLimit
	}
	if o.backup != "" {
		cc.BackupDirectory = o.backup
	}
	if o.eventBuffer > 0 {
		cc.EventBuffer = o.eventBuffer
	}
	if o.tickInterval > 0 {
		cc.TickInterval = o.tickInterval
	}
	if o.unloadTimeout > 0 {
		cc.UnloadTimeout = o.unloadTimeout
	}
	cc.Query = o.query
	cc.Clock = o.clock

	if logger != nil {
		logger.Debug("creating crystalizer",
			"directory", cc.Directory,
			"journal", cc.Journal.Directory,
			"memory_limit", cc.MemoryLimit,
		)
	}
	return crystal.New(cc)
}
