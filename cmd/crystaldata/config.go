package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Write a crystaldata.yaml with the default settings",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := dataDir
		if len(args) == 1 {
			dir = args[0]
		}
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				fatal("Failed to get CWD", err)
			}
			dir = wd
		}

		path := configPath
		if path == "" {
			path = filepath.Join(dir, "crystaldata.yaml")
		}
		if _, err := os.Stat(path); err == nil && !forceInit {
			fatal("Refusing to overwrite", fmt.Errorf("%s exists (use --force)", path))
		}

		if err := config.Save(config.Default(dir), path); err != nil {
			fatal("Failed to write configuration", err)
		}
		fmt.Println("Wrote", path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("Failed to load configuration", err)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fatal("Failed to encode configuration", err)
		}
		fmt.Print(string(out))
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
