package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/archi-Doc/CrystalData-sub001/internal/platform"
	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
)

var (
	verbose    bool
	configPath string
	dataDir    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "crystaldata",
	Short: "Inspect CrystalData directories",
	Long: `crystaldata inspects the files of an embedded CrystalData engine:
its configuration, its write-ahead journal and its blob storage.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to crystaldata.yaml")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "", "Data directory (default: searched upwards from the working directory)")
}

// loadConfig resolves the data directory and loads its configuration.
func loadConfig() (*config.Config, error) {
	dir := dataDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if root, err := platform.FindRoot(wd); err == nil {
			dir = root
		} else {
			dir = wd
		}
	}

	path := configPath
	if path == "" {
		path = dir + string(os.PathSeparator) + "crystaldata.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Directory == "." {
		cfg = config.Default(dir)
	}
	slog.Debug("configuration loaded", "path", path, "directory", cfg.Directory)
	return cfg, nil
}
