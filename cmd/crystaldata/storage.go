package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
	"github.com/archi-Doc/CrystalData-sub001/pkg/core"
)

var storageKey string

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect blob storage",
}

var storageStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print the number and total size of stored blobs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("Failed to load configuration", err)
		}
		files, usage, err := statStorage(context.Background(), cfg, storageKey)
		if err != nil {
			fatal("Failed to read storage", err)
		}
		printTable(os.Stdout, []string{"Backend", "Directory", "Files", "Usage"}, [][]string{{
			cfg.Storage.Backend,
			cfg.Storage.Directory,
			strconv.Itoa(files),
			strconv.FormatInt(usage, 10),
		}})
	},
}

// statStorage opens the storage named key read-only and returns its blob
// count, or -1 when the backend does not count them, and its usage. The
// backend is closed before returning.
func statStorage(ctx context.Context, cfg *config.Config, key string) (int, int64, error) {
	storage, closer, err := cfg.OpenStorageReadOnly(slog.Default())
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close storage", "error", err)
		}
	}()

	params := core.StorageParams{Key: key, Logger: slog.Default()}
	if !cfg.Journal.Disabled && cfg.Storage.Backend == "fs" {
		j, err := openJournal(ctx, cfg)
		if err != nil {
			return 0, 0, err
		}
		params.Journal = j
	}
	if err := storage.Prepare(ctx, params); err != nil {
		return 0, 0, err
	}
	files := -1
	if l, ok := storage.(interface{ Len() int }); ok {
		files = l.Len()
	}
	return files, storage.Usage(), nil
}

func init() {
	storageStatCmd.Flags().StringVarP(&storageKey, "key", "k", "", "Storage key (the crystal key followed by #storage)")
	_ = storageStatCmd.MarkFlagRequired("key")
	storageCmd.AddCommand(storageStatCmd)
	rootCmd.AddCommand(storageCmd)
}
