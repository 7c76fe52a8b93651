// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/visual-search/internal/runlog"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recent searches from the run log",
	Long: `History lists recent pipeline runs recorded in the SQLite run log
(run_log_path in the config). Pass a run ID to show that run's results.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	historyCmd.Flags().Bool("json", false, "output as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.RunLogPath == "" {
		return fmt.Errorf("run log is disabled; set run_log_path in the config")
	}

	store, err := runlog.Open(cfg.RunLogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := context.Background()

	var entries []runlog.Entry
	if len(args) == 1 {
		e, err := store.Get(ctx, args[0])
		if err != nil {
			return err
		}
		entries = []runlog.Entry{e}
	} else if entries, err = store.Recent(ctx, limit); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	printHistory(os.Stdout, entries, len(args) == 1)
	return nil
}

func printHistory(w io.Writer, entries []runlog.Entry, withResults bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintf(w, "%-36s  %-19s  %-30s  %-7s  %-5s  %s\n", "Run", "Started", "Query", "Results", "Cache", "Outcome")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, e := range entries {
		outcome := "ok"
		if e.Reason != "" {
			outcome = e.Reason
		}
		cacheHit := "miss"
		if e.CacheHit {
			cacheHit = "hit"
		}
		fmt.Fprintf(w, "%-36s  %-19s  %-30s  %-7d  %-5s  %s\n",
			e.RunID, e.StartedAt.Local().Format("2006-01-02 15:04:05"), truncate(e.Query, 30),
			len(e.Results), cacheHit, outcome)

		if withResults {
			for _, r := range e.Results {
				fmt.Fprintf(w, "    %2d. %.3f  %-10s  %s\n", r.Rank, r.Score, r.Source, r.URL)
			}
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
