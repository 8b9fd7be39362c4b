// Package config loads the crystaldata configuration file.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CRYSTALDATA_*)
//  2. Configuration file
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/archi-Doc/CrystalData-sub001/internal/bytesize"
	"github.com/archi-Doc/CrystalData-sub001/pkg/adapters/badger"
	"github.com/archi-Doc/CrystalData-sub001/pkg/adapters/fs"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
	"github.com/archi-Doc/CrystalData-sub001/pkg/crystal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
	"github.com/archi-Doc/CrystalData-sub001/pkg/metrics"
)

// EnvPrefix prefixes the environment overrides, e.g. CRYSTALDATA_MEMORY_LIMIT.
const EnvPrefix = "CRYSTALDATA"

// Config is the root of the configuration file.
type Config struct {
	// Directory is the root of the crystal files.
	Directory string `mapstructure:"directory" validate:"required" yaml:"directory"`

	// BackupDirectory receives a copy of every saved crystal.
	BackupDirectory string `mapstructure:"backup_directory" yaml:"backup_directory,omitempty"`

	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// JournalConfig configures the write-ahead journal.
type JournalConfig struct {
	// Disabled runs without a journal. Crystal journal records are dropped.
	Disabled bool `mapstructure:"disabled" yaml:"disabled,omitempty"`

	// Directory defaults to <directory>/journal.
	Directory string `mapstructure:"directory" yaml:"directory,omitempty"`

	MemoryCapacity bytesize.ByteSize `mapstructure:"memory_capacity" yaml:"memory_capacity"`
	MaxBooks       int               `mapstructure:"max_books" validate:"gte=1" yaml:"max_books"`
	Retention      string            `mapstructure:"retention" validate:"oneof=eager manual" yaml:"retention"`
}

// MemoryConfig configures eviction of storage data.
type MemoryConfig struct {
	// Limit of zero disables eviction.
	Limit             bytesize.ByteSize `mapstructure:"limit" yaml:"limit"`
	ConcurrentUnloads int64             `mapstructure:"concurrent_unloads" validate:"gte=1" yaml:"concurrent_unloads"`
	UnloadTimeout     time.Duration     `mapstructure:"unload_timeout" validate:"gt=0" yaml:"unload_timeout"`
}

// StorageConfig configures the blob storage of storage data.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=fs badger" yaml:"backend"`

	// Directory defaults to <directory>/storage.
	Directory string `mapstructure:"directory" yaml:"directory,omitempty"`

	MaxSize  bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size,omitempty"`
	MaxFiles int               `mapstructure:"max_files" validate:"gte=0" yaml:"max_files,omitempty"`
}

// SchedulerConfig configures the background scheduler.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"gt=0" yaml:"tick_interval"`
	SaveBatch    int           `mapstructure:"save_batch" validate:"gte=1" yaml:"save_batch"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json" yaml:"format"`
}

// Load reads the configuration file at path, applies environment overrides
// and defaults, and validates the result. A missing file yields the
// defaults for the current directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("crystaldata")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Directory == "" {
		cfg.Directory = "."
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnv registers every mapstructure key so that environment variables
// apply even when the file omits the key.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook accepts "64Mi", "1GB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s", "5m" or nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// NewLogger builds the slog logger described by the logging section.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(l.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Crystalizer converts the configuration into a crystal.Config.
func (c *Config) Crystalizer(logger *slog.Logger, m metrics.Metrics) (crystal.Config, error) {
	retention, err := journal.ParseRetention(c.Journal.Retention)
	if err != nil {
		return crystal.Config{}, err
	}
	cc := crystal.Config{
		Directory:         c.Directory,
		BackupDirectory:   c.BackupDirectory,
		MemoryLimit:       c.Memory.Limit.Int64(),
		ConcurrentUnloads: c.Memory.ConcurrentUnloads,
		UnloadTimeout:     c.Memory.UnloadTimeout,
		TickInterval:      c.Scheduler.TickInterval,
		SaveBatch:         c.Scheduler.SaveBatch,
		Logger:            logger,
		Metrics:           m,
	}
	if !c.Journal.Disabled {
		cc.Journal = journal.Config{
			Directory:      c.Journal.Directory,
			MemoryCapacity: int(c.Journal.MemoryCapacity),
			MaxBooks:       c.Journal.MaxBooks,
			Retention:      retention,
		}
	}
	return cc, nil
}

// OpenStorage opens the configured storage backend. The returned closer
// releases the backend and must be called once the storage is no longer used.
func (c *Config) OpenStorage(logger *slog.Logger, m metrics.Metrics) (core.Storage, io.Closer, error) {
	return c.openStorage(logger, m, false)
}

// OpenStorageReadOnly opens the configured backend for inspection. Prepare
// leaves the directory untouched and every write fails.
func (c *Config) OpenStorageReadOnly(logger *slog.Logger) (core.Storage, io.Closer, error) {
	return c.openStorage(logger, nil, true)
}

func (c *Config) openStorage(logger *slog.Logger, m metrics.Metrics, readOnly bool) (core.Storage, io.Closer, error) {
	switch c.Storage.Backend {
	case "badger":
		open := badger.Open
		if readOnly {
			open = badger.OpenReadOnly
		}
		db, err := open(c.Storage.Directory)
		if err != nil {
			return nil, nil, err
		}
		s := badger.NewStorage(badger.Config{
			DB:       db,
			MaxSize:  c.Storage.MaxSize.Int64(),
			MaxFiles: c.Storage.MaxFiles,
			Logger:   logger,
			Metrics:  m,
		})
		return s, db, nil
	default:
		s := fs.NewStorage(fs.StorageConfig{
			Directory: c.Storage.Directory,
			MaxSize:   c.Storage.MaxSize.Int64(),
			MaxFiles:  c.Storage.MaxFiles,
			ReadOnly:  readOnly,
			Logger:    logger,
			Metrics:   m,
		})
		return s, io.NopCloser(nil), nil
	}
}
