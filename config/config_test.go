package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SITE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	for _, key := range []string{"REQUEST_DELAY_MS", "MAX_RETRIES", "TARGET_COUNT", "DUPLICATE_PAGE_POLICY", "FETCH_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Fetch.Delay != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s delay, got %s", cfg.Fetch.Delay)
	}
	if cfg.Fetch.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.Fetch.MaxRetries)
	}
	if cfg.Crawl.TargetCount != 2000 {
		t.Fatalf("expected target 2000, got %d", cfg.Crawl.TargetCount)
	}
	if cfg.Crawl.DuplicatePagePolicy != DuplicatePageContinue {
		t.Fatalf("expected continue policy, got %s", cfg.Crawl.DuplicatePagePolicy)
	}
	if cfg.Site.DataMarker != "window.initialData" {
		t.Fatalf("unexpected marker %s", cfg.Site.DataMarker)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("SITE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DUPLICATE_PAGE_POLICY", "sometimes")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestLoadSiteOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	data := []byte("id: test\nbase_url: http://localhost:8080\nad_paths:\n  - listing\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write site config: %v", err)
	}

	site, err := LoadSite(path)
	if err != nil {
		t.Fatalf("load site failed: %v", err)
	}
	if site.ID != "test" {
		t.Fatalf("expected id test, got %s", site.ID)
	}
	if len(site.AdPaths) != 1 || site.AdPaths[0] != "listing" {
		t.Fatalf("unexpected ad paths %v", site.AdPaths)
	}
	if site.DataMarker != "window.initialData" {
		t.Fatalf("expected default marker to survive overlay, got %q", site.DataMarker)
	}
	if site.Headers["User-Agent"] == "" {
		t.Fatalf("expected default headers to survive overlay")
	}
	if got := site.SearchURL(3); got != "http://localhost:8080/en/ads/sri-lanka/property?page=3" {
		t.Fatalf("unexpected search URL %s", got)
	}
	if got := site.DetailURL("house-for-sale-kandy-12"); got != "http://localhost:8080/en/ad/house-for-sale-kandy-12" {
		t.Fatalf("unexpected detail URL %s", got)
	}
}

func TestLoadRejectsNonPositiveTarget(t *testing.T) {
	t.Setenv("SITE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DUPLICATE_PAGE_POLICY", "")
	t.Setenv("FETCH_MODE", "")

	for _, v := range []string{"0", "-5"} {
		t.Setenv("TARGET_COUNT", v)
		if _, err := Load(); err == nil {
			t.Fatalf("expected error for TARGET_COUNT=%s", v)
		}
	}
}
