package scraper

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ikman_scrooper/config"
)

func TestInspect(t *testing.T) {
	f := newFakeFetcher()
	url := "https://ikman.lk/en/ad/3-bedroom-house-for-sale-in-nugegoda-1022"
	f.pages[url] = loadFixture(t, "detail_full.html")

	dump := filepath.Join(t.TempDir(), "debug_page.html")
	var out bytes.Buffer
	err := Inspect(context.Background(), f, config.DefaultSite(), InspectOptions{URL: url, DumpPath: dump, Out: &out})
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}

	saved, err := os.ReadFile(dump)
	if err != nil {
		t.Fatalf("expected dump file: %v", err)
	}
	if string(saved) != f.pages[url] {
		t.Fatalf("expected dump to hold the raw page")
	}

	report := out.String()
	for _, want := range []string{"Found 3 script tags", "Top-level keys: [adDetail]", `"listing_id": "5f2c1a9e"`} {
		if !strings.Contains(report, want) {
			t.Fatalf("expected report to contain %q, got:\n%s", want, report)
		}
	}
}

func TestInspectReportsExtractionFailure(t *testing.T) {
	f := newFakeFetcher()
	url := "https://ikman.lk/en/ad/broken-1"
	f.pages[url] = loadFixture(t, "detail_no_marker.html")

	var out bytes.Buffer
	err := Inspect(context.Background(), f, config.DefaultSite(), InspectOptions{
		URL:      url,
		DumpPath: filepath.Join(t.TempDir(), "debug_page.html"),
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("expected failure to be reported, not returned: %v", err)
	}
	if !strings.Contains(out.String(), "Extraction failed") {
		t.Fatalf("expected extraction failure in report, got:\n%s", out.String())
	}
}
