// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/visual-search/pkg/types"
)

// ResultFile is the on-disk form of a finished search, so results can be
// reviewed later without re-running the pipeline.
type ResultFile struct {
	Request     RequestParams           `yaml:"request"`
	Results     []types.ScoredCandidate `yaml:"results"`
	Diagnostics Diagnostics             `yaml:"diagnostics"`
	SavedAt     time.Time               `yaml:"saved_at"`
}

// RequestParams stores the request in a serializable form. The image
// itself is referenced by path, not embedded.
type RequestParams struct {
	ImagePath string `yaml:"image_path,omitempty"`
	Text      string `yaml:"text,omitempty"`
	Model     string `yaml:"model,omitempty"`
	Target    int    `yaml:"target,omitempty"`
	Detailed  bool   `yaml:"detailed"`
}

// WriteResultFile saves a response and the parameters that produced it.
func WriteResultFile(path, imagePath string, req Request, resp Response) error {
	rf := ResultFile{
		Request: RequestParams{
			ImagePath: imagePath,
			Text:      req.Text,
			Model:     req.Model,
			Target:    req.Target,
			Detailed:  req.Detailed,
		},
		Results:     resp.Results,
		Diagnostics: resp.Diagnostics,
		SavedAt:     time.Now().UTC(),
	}

	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("marshaling result file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result file %s: %w", path, err)
	}
	return nil
}

// ReadResultFile loads a file written by WriteResultFile.
func ReadResultFile(path string) (*ResultFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading result file %s: %w", path, err)
	}
	var rf ResultFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing result file %s: %w", path, err)
	}
	return &rf, nil
}

// FormatTable writes a human-readable results table followed by a
// one-line summary of the run.
func FormatTable(resp Response, w io.Writer) {
	d := resp.Diagnostics
	if len(resp.Results) == 0 {
		fmt.Fprintf(w, "No results found")
		if d.Reason != "" {
			fmt.Fprintf(w, " (%s)", d.Reason)
		}
		fmt.Fprintln(w, ".")
	} else {
		fmt.Fprintf(w, "%-4s  %-6s  %-10s  %-60s  %s\n", "Rank", "Score", "Source", "URL", "Title")
		fmt.Fprintln(w, strings.Repeat("-", 110))
		for i, r := range resp.Results {
			title := ""
			if r.Metadata != nil {
				title = r.Metadata.Title
			}
			fmt.Fprintf(w, "%-4d  %-6.3f  %-10s  %-60s  %s\n",
				i+1, r.Score, r.Source, truncate(r.URL, 60), truncate(title, 30))
			if r.Patch != nil {
				fmt.Fprintf(w, "      patches: mean best %.3f, %d mutual of %d\n",
					r.Patch.MeanBestMatch, r.Patch.MutualMatches, r.Patch.QueryPatches)
			}
		}
	}

	fmt.Fprintf(w, "\nquery: %q", d.Query)
	if d.Captioned {
		fmt.Fprint(w, " (captioned)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "found: %d, reachable: %d, scored: %d, failed: %d, cancelled: %d",
		d.Found, d.Reachable, d.Scored, d.Failed, d.Cancelled)
	if d.CacheHit {
		fmt.Fprint(w, ", cache hit")
	} else if len(d.TiersUsed) > 0 {
		fmt.Fprintf(w, ", tiers: %s", strings.Join(d.TiersUsed, ","))
	}
	if d.EarlyStopped {
		fmt.Fprint(w, ", stopped early")
	}
	fmt.Fprintln(w)
	for _, e := range d.SourceErrors {
		fmt.Fprintf(w, "warning: %s\n", e)
	}
}

// FormatJSON writes the response as indented JSON to w.
func FormatJSON(resp Response, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
