package scraper

import (
	"context"
	"strings"

	"ikman_scrooper/models"
)

// DetailScraper turns one listing URL into a normalized record.
type DetailScraper struct {
	fetcher    Fetcher
	extractor  *Extractor
	normalizer *Normalizer
}

func NewDetailScraper(fetcher Fetcher, extractor *Extractor, normalizer *Normalizer) *DetailScraper {
	return &DetailScraper{
		fetcher:    fetcher,
		extractor:  extractor,
		normalizer: normalizer,
	}
}

// Scrape fetches, extracts and normalizes. Failures are *FetchError,
// *ExtractionError or *SchemaError.
func (d *DetailScraper) Scrape(ctx context.Context, url string) (*models.ListingRecord, error) {
	url = strings.TrimSpace(url)

	html, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	tree, err := d.extractor.Extract(html)
	if err != nil {
		return nil, err
	}

	return d.normalizer.Normalize(tree, url)
}
