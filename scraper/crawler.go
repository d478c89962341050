package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ikman_scrooper/config"
	"ikman_scrooper/logging"
	"ikman_scrooper/models"
)

// DedupStore is the persisted record set. It doubles as the ledger of which
// listings have already been scraped.
type DedupStore interface {
	KnownIDs() (map[string]struct{}, error)
	Persist(rec *models.ListingRecord) bool
}

type ImageDownloader interface {
	Download(ctx context.Context, listingID string, urls []string) string
}

type RunRecorder interface {
	CreateRun(run *models.CrawlRun) (int64, error)
	UpdateRun(run *models.CrawlRun) error
	Log(runID *int64, level models.LogLevel, message, siteID string) error
}

// RecordMirror receives a copy of every persisted record.
type RecordMirror interface {
	UpsertListing(ctx context.Context, rec *models.ListingRecord) error
}

// Crawler pages through search results and scrapes every listing it has
// not seen before. One request is in flight at a time.
type Crawler struct {
	site    *config.SiteConfig
	cfg     config.CrawlConfig
	fetcher Fetcher
	search  *SearchParser
	detail  *DetailScraper
	store   DedupStore
	logger  *logging.Logger

	images   ImageDownloader
	recorder RunRecorder
	mirror   RecordMirror

	now func() time.Time
}

func NewCrawler(site *config.SiteConfig, cfg config.CrawlConfig, fetcher Fetcher, store DedupStore, logger *logging.Logger) *Crawler {
	extractor := NewExtractor(site.DataMarker)
	normalizer := NewNormalizer(site.AdPaths, site.DefaultCurrency)
	return &Crawler{
		site:    site,
		cfg:     cfg,
		fetcher: fetcher,
		search:  NewSearchParser(site, extractor),
		detail:  NewDetailScraper(fetcher, extractor, normalizer),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Crawler) SetImageDownloader(d ImageDownloader) { c.images = d }
func (c *Crawler) SetRunRecorder(r RunRecorder)         { c.recorder = r }
func (c *Crawler) SetMirror(m RecordMirror)             { c.mirror = m }

// Run crawls until the target is reached, a search page has no listings or
// cannot be fetched, the page limit is hit, or ctx is cancelled. The
// returned run is never nil. A search page fetch failure is also returned
// as the error; the run is marked failed only when it happens on page 1.
func (c *Crawler) Run(ctx context.Context) (*models.CrawlRun, error) {
	run := &models.CrawlRun{
		RunKey:    uuid.New(),
		SiteID:    c.site.ID,
		StartedAt: c.now(),
		Status:    models.RunStatusRunning,
	}
	if c.recorder != nil {
		id, err := c.recorder.CreateRun(run)
		if err != nil {
			c.logger.Warnf("failed to record run start: %v", err)
		} else {
			run.ID = id
		}
	}
	defer c.finish(run)

	known, err := c.store.KnownIDs()
	if err != nil {
		run.Status = models.RunStatusFailed
		run.ErrorsCount++
		c.log(run, models.LogLevelError, "failed to read known listings: %v", err)
		return run, err
	}
	c.log(run, models.LogLevelInfo, "starting crawl of %s (run %s), %d listings already stored", c.site.Name, run.RunKey, len(known))

	var runErr error
	total := 0

pages:
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			run.StopReason = models.StopCancelled
			break
		}
		if c.cfg.MaxPages > 0 && page > c.cfg.MaxPages {
			run.StopReason = models.StopMaxPages
			break
		}

		searchURL := c.site.SearchURL(page)
		c.log(run, models.LogLevelInfo, "scraping search page %d: %s", page, searchURL)

		html, err := c.fetcher.Fetch(ctx, searchURL)
		if err != nil {
			if ctx.Err() != nil {
				run.StopReason = models.StopCancelled
				break
			}
			run.ErrorsCount++
			run.StopReason = models.StopSearchFetchFailed
			c.log(run, models.LogLevelError, "failed to fetch search page %d, stopping: %v", page, err)
			if page == 1 {
				run.Status = models.RunStatusFailed
			}
			runErr = fmt.Errorf("search page %d: %w", page, err)
			break
		}
		run.PagesVisited++

		summaries, err := c.search.Parse(html)
		if err != nil {
			c.log(run, models.LogLevelWarn, "failed to parse search page %d: %v", page, err)
		}
		if len(summaries) == 0 {
			c.log(run, models.LogLevelInfo, "no listings on page %d, stopping", page)
			run.StopReason = models.StopNoListings
			break
		}
		run.ListingsFound += len(summaries)

		alreadyKnown := 0
		for _, s := range summaries {
			if ctx.Err() != nil {
				run.StopReason = models.StopCancelled
				break pages
			}
			switch c.process(ctx, run, s, known) {
			case outcomeSaved:
				total++
				c.log(run, models.LogLevelInfo, "scraped count: %d/%d", total, c.cfg.TargetCount)
			case outcomeKnown:
				alreadyKnown++
			}
			if c.cfg.TargetCount > 0 && total >= c.cfg.TargetCount {
				run.StopReason = models.StopTargetReached
				break pages
			}
		}

		// Failed listings do not count: only a page of already stored
		// listings triggers the stop policy.
		if alreadyKnown == len(summaries) && c.cfg.DuplicatePagePolicy == config.DuplicatePageStop {
			c.log(run, models.LogLevelInfo, "page %d has only known listings, stopping", page)
			run.StopReason = models.StopDuplicatePage
			break
		}
	}

	if run.Status == models.RunStatusRunning {
		run.Status = models.RunStatusCompleted
	}
	c.log(run, models.LogLevelInfo, "crawl finished (%s): %d pages, %d found, %d new, %d skipped, %d errors",
		run.StopReason, run.PagesVisited, run.ListingsFound, run.ListingsNew, run.ListingsSkipped, run.ErrorsCount)
	return run, runErr
}

type outcome int

const (
	outcomeSaved outcome = iota
	outcomeKnown
	outcomeSkipped
	outcomeFailed
)

// process scrapes and stores one summary. Failures are logged and never
// stop the crawl.
func (c *Crawler) process(ctx context.Context, run *models.CrawlRun, s models.ListingSummary, known map[string]struct{}) outcome {
	if s.ID == "" {
		c.log(run, models.LogLevelWarn, "listing without id at %s, skipping", s.URL)
		run.ListingsSkipped++
		return outcomeSkipped
	}
	if _, ok := known[s.ID]; ok {
		c.logger.Debugf("skipping known listing %s", s.ID)
		run.ListingsSkipped++
		return outcomeKnown
	}

	c.logger.Infof("processing new listing %s", s.ID)
	rec, err := c.detail.Scrape(ctx, s.URL)
	if err != nil {
		run.ErrorsCount++
		c.logScrapeError(run, s, err)
		return outcomeFailed
	}

	// Summary ids taken from the URL can differ from the ad's own id.
	if rec.ListingID != s.ID {
		if _, ok := known[rec.ListingID]; ok {
			known[s.ID] = struct{}{}
			run.ListingsSkipped++
			c.logger.Debugf("listing %s is already stored as %s", s.ID, rec.ListingID)
			return outcomeKnown
		}
	}

	if len(rec.ImageURLs) == 0 && s.ImageURL != "" {
		rec.ImageURLs = []string{s.ImageURL}
	}
	if len(rec.ImageURLs) == 0 {
		rec.ImageFolder = ""
	} else if c.images != nil {
		rec.ImageFolder = c.images.Download(ctx, rec.ListingID, rec.ImageURLs)
	}

	if !c.store.Persist(rec) {
		run.ErrorsCount++
		c.log(run, models.LogLevelError, "listing %s (%s) was not saved, it will be retried next run", rec.ListingID, s.URL)
		return outcomeFailed
	}
	known[rec.ListingID] = struct{}{}
	known[s.ID] = struct{}{}
	run.ListingsNew++

	if c.mirror != nil {
		if err := c.mirror.UpsertListing(ctx, rec); err != nil {
			c.logger.Warnf("mirror listing %s: %v", rec.ListingID, err)
		}
	}
	return outcomeSaved
}

func (c *Crawler) logScrapeError(run *models.CrawlRun, s models.ListingSummary, err error) {
	var fetchErr *FetchError
	var extractErr *ExtractionError
	var schemaErr *SchemaError

	switch {
	case errors.As(err, &fetchErr):
		c.log(run, models.LogLevelError, "listing %s: detail fetch failed: %v", s.ID, fetchErr)
	case errors.As(err, &extractErr):
		c.log(run, models.LogLevelError, "listing %s (%s): no embedded data: %v", s.ID, s.URL, extractErr)
	case errors.As(err, &schemaErr):
		c.log(run, models.LogLevelError, "listing %s (%s): unexpected page structure: %v", s.ID, s.URL, schemaErr)
	default:
		c.log(run, models.LogLevelError, "listing %s (%s): %v", s.ID, s.URL, err)
	}
}

func (c *Crawler) finish(run *models.CrawlRun) {
	now := c.now()
	run.FinishedAt = &now
	if c.recorder == nil {
		return
	}
	if err := c.recorder.UpdateRun(run); err != nil {
		c.logger.Warnf("failed to record run end: %v", err)
	}
}

func (c *Crawler) log(run *models.CrawlRun, level models.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case models.LogLevelError:
		c.logger.Errorf("%s: %s", c.site.ID, msg)
	case models.LogLevelWarn:
		c.logger.Warnf("%s: %s", c.site.ID, msg)
	default:
		c.logger.Infof("%s: %s", c.site.ID, msg)
	}
	if c.recorder == nil {
		return
	}
	var runID *int64
	if run.ID != 0 {
		runID = &run.ID
	}
	if err := c.recorder.Log(runID, level, msg, c.site.ID); err != nil {
		c.logger.Warnf("failed to record log line: %v", err)
	}
}
