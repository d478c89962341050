package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"ikman_scrooper/config"
)

const previewLen = 300

type InspectOptions struct {
	URL      string
	DumpPath string
	Out      io.Writer
}

// Inspect fetches one page and reports what the pipeline sees in it: the
// raw HTML goes to DumpPath, and previews, top-level keys and the
// normalized record (or the failure) are written to Out.
func Inspect(ctx context.Context, fetcher Fetcher, site *config.SiteConfig, opts InspectOptions) error {
	if opts.DumpPath == "" {
		opts.DumpPath = "debug_page.html"
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	html, err := fetcher.Fetch(ctx, opts.URL)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.DumpPath, []byte(html), 0644); err != nil {
		return fmt.Errorf("write %s: %w", opts.DumpPath, err)
	}
	fmt.Fprintf(out, "Saved %d bytes to %s\n", len(html), opts.DumpPath)

	extractor := NewExtractor(site.DataMarker)
	previews, err := extractor.ScriptPreviews(html, previewLen)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Found %d script tags\n", len(previews))
	for _, p := range previews {
		if p.HasMarker {
			fmt.Fprintf(out, "--- script %d (contains %s) ---\n%s\n", p.Index, extractor.Marker(), p.Preview)
		}
	}

	tree, err := extractor.Extract(html)
	if err != nil {
		fmt.Fprintf(out, "Extraction failed: %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "Top-level keys: %v\n", tree.Keys())

	normalizer := NewNormalizer(site.AdPaths, site.DefaultCurrency)
	rec, err := normalizer.Normalize(tree, opts.URL)
	if err != nil {
		fmt.Fprintf(out, "Normalization failed: %v\n", err)
		return nil
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Normalized record:\n%s\n", data)
	return nil
}
