// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/visual-search/internal/search"
	"github.com/pdiddy/visual-search/internal/source"
	"github.com/pdiddy/visual-search/pkg/types"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured source tiers and adapter status",
	Long: `Sources prints the tier order the search coordinator will walk, which
adapters are active, and which are disabled for lack of credentials.`,
	RunE: runSources,
}

func init() {
	sourcesCmd.Flags().String("tiers", "", "YAML tier file overriding search.tiers")
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if tierFile, _ := cmd.Flags().GetString("tiers"); tierFile != "" {
		if cfg.Search.Tiers, err = search.ReadTierFile(tierFile); err != nil {
			return err
		}
	}

	reg := source.Build(cfg.Search, nil)
	printSources(os.Stdout, reg, cfg.Search.Tiers)

	if _, err := reg.Resolve(cfg.Search.Tiers); err != nil {
		return err
	}
	return nil
}

func printSources(w io.Writer, reg *source.Registry, tiers []types.SearchTier) {
	disabled := reg.Disabled()

	fmt.Fprintf(w, "%-8s  %-10s  %-9s  %s\n", "Tier", "Source", "Status", "Breaker")
	fmt.Fprintln(w, strings.Repeat("-", 44))
	listed := make(map[string]bool)
	for _, t := range tiers {
		for _, name := range t.Sources {
			listed[name] = true
			status, breaker := "active", "-"
			if a, ok := reg.Get(name); ok {
				if g, ok := a.(*source.Guarded); ok {
					breaker = g.State()
				}
			} else if reason, ok := disabled[name]; ok {
				status = "disabled"
				breaker = reason
			} else {
				status = "unknown"
			}
			fmt.Fprintf(w, "%-8s  %-10s  %-9s  %s\n", t.Name, name, status, breaker)
		}
	}

	var unused []string
	for _, name := range source.Known {
		if !listed[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	if len(unused) > 0 {
		fmt.Fprintf(w, "\nnot in any tier: %s\n", strings.Join(unused, ", "))
	}
}
