package crystal

import (
	"fmt"
	"time"

	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

const defaultSaveInterval = time.Hour

// Configuration describes how one crystal is persisted.
type Configuration struct {
	// Path of the primary file, relative to the crystalizer directory.
	Path string

	// BackupPath is relative to the crystalizer backup directory. Defaults
	// to Path when a backup directory is configured.
	BackupPath string

	Format     core.SaveFormat
	SavePolicy core.SavePolicy

	// SaveInterval applies to SavePeriodic. Default one hour.
	SaveInterval time.Duration

	// NumberOfFileHistories is the number of previous versions kept as
	// <Path>.0 (newest) to <Path>.<n-1> (oldest).
	NumberOfFileHistories int

	// RequiredForLoading escalates a missing file to the NoData query.
	RequiredForLoading bool

	// Storage holds the blobs of StorageData children. Defaults to core.NullStorage.
	Storage core.Storage
}

func (c *Configuration) applyDefaults() {
	if c.SaveInterval <= 0 {
		c.SaveInterval = defaultSaveInterval
	}
	if c.Storage == nil {
		c.Storage = core.NullStorage{}
	}
}

func (c *Configuration) validate() error {
	if c.Path == "" && c.SavePolicy != core.SaveVolatile {
		return fmt.Errorf("crystal path is required unless the save policy is volatile")
	}
	if c.NumberOfFileHistories < 0 {
		return fmt.Errorf("number of file histories must not be negative")
	}
	return nil
}

// Option configures a crystal at registration.
type Option[T any] func(*Crystal[T])

// WithSerializer overrides the serializer picked from the save format.
func WithSerializer[T any](s Serializer[T]) Option[T] {
	return func(c *Crystal[T]) {
		c.serializer = s
	}
}

// WithReconstructor sets the function producing the default instance when
// no persisted data exists.
func WithReconstructor[T any](fn func() *T) Option[T] {
	return func(c *Crystal[T]) {
		c.reconstruct = fn
	}
}
