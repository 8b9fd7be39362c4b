package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/archi-Doc/CrystalData-sub001/pkg/config"
	"github.com/archi-Doc/CrystalData-sub001/pkg/journal"
)

var (
	dumpFrom    uint64
	dumpPlane   uint32
	dumpPayload bool
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the write-ahead journal",
}

// openJournal opens the configured journal read-only, so that a running
// engine can be inspected.
func openJournal(ctx context.Context, cfg *config.Config) (*journal.Journal, error) {
	if cfg.Journal.Disabled {
		return nil, fmt.Errorf("journal is disabled in the configuration")
	}
	j := journal.New(journal.Config{
		Directory: cfg.Journal.Directory,
		ReadOnly:  true,
		Logger:    slog.Default(),
	})
	if err := j.Prepare(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

var journalDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the journal records",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := loadConfig()
		if err != nil {
			fatal("Failed to load configuration", err)
		}
		j, err := openJournal(ctx, cfg)
		if err != nil {
			fatal("Failed to open journal", err)
		}

		pos := dumpFrom
		if oldest := j.Oldest(); pos < oldest {
			pos = oldest
		}
		var rows [][]string
		for pos < j.Position() {
			next, data, err := j.ReadJournal(ctx, pos)
			if err != nil {
				fatal(fmt.Sprintf("Failed to read journal at %d", pos), err)
			}
			if len(data) == 0 || next <= pos {
				break
			}
			_, err = journal.ReadRecords(pos, data, func(r journal.Record) error {
				if dumpPlane != 0 && r.Plane != dumpPlane {
					return nil
				}
				row := []string{
					fmt.Sprintf("%016x", r.Position),
					fmt.Sprintf("%08x", r.Plane),
					fmt.Sprintf("%02x", uint8(r.Type)),
					strconv.Itoa(len(r.Payload)),
				}
				if dumpPayload {
					row = append(row, hex.EncodeToString(r.Payload))
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				fatal(fmt.Sprintf("Corrupted journal after %d", pos), err)
			}
			pos = next
		}
		headers := []string{"Position", "Plane", "Type", "Length"}
		if dumpPayload {
			headers = append(headers, "Payload")
		}
		printTable(os.Stdout, headers, rows)
		slog.Debug("journal dumped", "records", len(rows), "position", j.Position())
	},
}

var journalStatCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print the journal state as JSON",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("Failed to load configuration", err)
		}
		j, err := openJournal(context.Background(), cfg)
		if err != nil {
			fatal("Failed to open journal", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(j.State()); err != nil {
			fatal("Failed to encode state", err)
		}
	},
}

func init() {
	journalDumpCmd.Flags().Uint64Var(&dumpFrom, "from", 0, "First position to print")
	journalDumpCmd.Flags().Uint32Var(&dumpPlane, "plane", 0, "Only print records of this plane")
	journalDumpCmd.Flags().BoolVar(&dumpPayload, "payload", false, "Print payloads as hex")
	journalCmd.AddCommand(journalDumpCmd, journalStatCmd)
	rootCmd.AddCommand(journalCmd)
}
