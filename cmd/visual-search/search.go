// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/visual-search/internal/pipeline"
	"github.com/pdiddy/visual-search/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find images similar to a query image",
	Long: `Search describes the query image (unless --text is given), gathers
candidates from the configured source tiers, checks that each candidate is
still reachable, and ranks the reachable ones by similarity to the query.

With --detailed each result also carries a patch-level comparison; fewer
candidates are scored before the search stops.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("image", "", "query image file (required)")
	searchCmd.Flags().String("text", "", "search text (default: caption the image)")
	searchCmd.Flags().String("model", "", "embedding model ID (default: embedding.model)")
	searchCmd.Flags().Int("count", 0, "number of results (default: ranking threshold)")
	searchCmd.Flags().Bool("detailed", false, "add patch-level analysis")
	searchCmd.Flags().Duration("timeout", 30*time.Second, "deadline for the whole search")
	searchCmd.Flags().Bool("json", false, "output results as JSON")
	searchCmd.Flags().String("save", "", "save request, results and diagnostics to a YAML file")
	searchCmd.Flags().String("tiers", "", "YAML tier file overriding search.tiers")
	searchCmd.MarkFlagRequired("image")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	text, _ := cmd.Flags().GetString("text")
	model, _ := cmd.Flags().GetString("model")
	count, _ := cmd.Flags().GetInt("count")
	detailed, _ := cmd.Flags().GetBool("detailed")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	asJSON, _ := cmd.Flags().GetBool("json")
	savePath, _ := cmd.Flags().GetString("save")
	tierFile, _ := cmd.Flags().GetString("tiers")

	if count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading query image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if tierFile != "" {
		tiers, err := search.ReadTierFile(tierFile)
		if err != nil {
			return err
		}
		cfg.Search.Tiers = tiers
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid tier file: %w", err)
		}
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req := pipeline.Request{
		Image:    image,
		Text:     text,
		Model:    model,
		Target:   count,
		Detailed: detailed,
	}
	if timeout > 0 {
		req.Deadline = time.Now().Add(timeout)
	}

	resp, runErr := a.pipeline.Run(ctx, req)
	if resp.Diagnostics.RunID == "" {
		return runErr
	}

	if asJSON {
		if err := pipeline.FormatJSON(resp, os.Stdout); err != nil {
			return err
		}
	} else {
		pipeline.FormatTable(resp, os.Stdout)
	}

	if savePath != "" {
		if err := pipeline.WriteResultFile(savePath, imagePath, req, resp); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved results to %s\n", savePath)
	}
	return runErr
}
