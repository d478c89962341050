package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"ikman_scrooper/config"
	"ikman_scrooper/logging"
	"ikman_scrooper/models"
	"ikman_scrooper/storage"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", &FetchError{URL: url, Attempts: 1, StatusCode: 404, Err: errors.New("not found")}
	}
	return html, nil
}

type serpAd struct {
	id    string
	image string
}

func searchPage(ads ...serpAd) string {
	parts := make([]string, 0, len(ads))
	for _, ad := range ads {
		parts = append(parts, fmt.Sprintf(`{"id":%q,"slug":"listing-%s","title":"Listing %s","price":"Rs 10,000","location":"Colombo","imgUrl":%q}`,
			ad.id, ad.id, ad.id, ad.image))
	}
	return `<html><body><script>window.initialData = {"serp":{"ads":{"data":{"ads":[` +
		strings.Join(parts, ",") + `]}}}};</script></body></html>`
}

func detailPage(id string, images ...string) string {
	imgs := make([]string, 0, len(images))
	for _, u := range images {
		imgs = append(imgs, fmt.Sprintf("%q", u))
	}
	return fmt.Sprintf(`<html><body><script>window.initialData = {"adDetail":{"data":{"ad":{"id":%q,"title":"Listing %s","price":{"value":"10,000","currency":"LKR"},"images":[%s]}}}};</script></body></html>`,
		id, id, strings.Join(imgs, ","))
}

func detailURL(id string) string {
	return "https://ikman.lk/en/ad/listing-" + id
}

type crawlFixture struct {
	site    *config.SiteConfig
	fetcher *fakeFetcher
	store   *storage.FileStore
}

func newCrawlFixture(t *testing.T) *crawlFixture {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return &crawlFixture{site: config.DefaultSite(), fetcher: newFakeFetcher(), store: store}
}

func (f *crawlFixture) search(page int, ads ...serpAd) {
	f.fetcher.pages[f.site.SearchURL(page)] = searchPage(ads...)
}

func (f *crawlFixture) detail(id string, images ...string) {
	f.fetcher.pages[detailURL(id)] = detailPage(id, images...)
}

func (f *crawlFixture) crawler(cfg config.CrawlConfig) *Crawler {
	return NewCrawler(f.site, cfg, f.fetcher, f.store, logging.Discard())
}

func defaultCrawlConfig() config.CrawlConfig {
	return config.CrawlConfig{TargetCount: 100, DuplicatePagePolicy: config.DuplicatePageContinue}
}

func TestCrawlerStopsOnEmptyPage(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"}, serpAd{id: "a2"})
	f.search(2)
	f.detail("a1")
	f.detail("a2")

	run, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.StopReason != models.StopNoListings {
		t.Fatalf("expected stop reason no_listings, got %s", run.StopReason)
	}
	if run.ListingsNew != 2 || run.PagesVisited != 2 || run.ListingsFound != 2 {
		t.Fatalf("unexpected counters %+v", run)
	}
	if run.FinishedAt == nil {
		t.Fatalf("expected finished_at to be set")
	}

	known, err := f.store.KnownIDs()
	if err != nil {
		t.Fatalf("known ids: %v", err)
	}
	if len(known) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(known))
	}
	rec, err := f.store.Load("a1")
	if err != nil {
		t.Fatalf("load a1: %v", err)
	}
	if rec.ImageFolder != "" {
		t.Fatalf("expected empty image folder for listing without images, got %q", rec.ImageFolder)
	}
}

func TestCrawlerSkipsKnownListingsAcrossRuns(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"}, serpAd{id: "a2"})
	f.search(2)
	f.detail("a1")
	f.detail("a2")

	if _, err := f.crawler(defaultCrawlConfig()).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	run, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if run.ListingsNew != 0 || run.ListingsSkipped != 2 {
		t.Fatalf("expected 0 new and 2 skipped, got %d new and %d skipped", run.ListingsNew, run.ListingsSkipped)
	}
	for _, id := range []string{"a1", "a2"} {
		if n := f.fetcher.calls[detailURL(id)]; n != 1 {
			t.Fatalf("expected detail page %s fetched once, got %d", id, n)
		}
	}
}

func TestCrawlerTargetReached(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"}, serpAd{id: "a2"})
	f.detail("a1")
	f.detail("a2")

	cfg := defaultCrawlConfig()
	cfg.TargetCount = 1
	run, err := f.crawler(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.StopReason != models.StopTargetReached {
		t.Fatalf("expected target_reached, got %s", run.StopReason)
	}
	if run.ListingsNew != 1 {
		t.Fatalf("expected 1 new listing, got %d", run.ListingsNew)
	}
	if n := f.fetcher.calls[detailURL("a2")]; n != 0 {
		t.Fatalf("expected a2 never fetched, got %d calls", n)
	}
}

func TestCrawlerDetailFailureContinues(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"}, serpAd{id: "broken"}, serpAd{id: "a3"})
	f.search(2)
	f.detail("a1")
	f.fetcher.pages[detailURL("broken")] = "<html><body>no state here</body></html>"
	f.detail("a3")

	run, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.ListingsNew != 2 || run.ErrorsCount != 1 {
		t.Fatalf("expected 2 new and 1 error, got %d new and %d errors", run.ListingsNew, run.ErrorsCount)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if _, err := f.store.Load("broken"); !storage.IsNotExist(err) {
		t.Fatalf("expected no record for failed listing, got %v", err)
	}
}

func TestCrawlerSearchFailureOnFirstPage(t *testing.T) {
	f := newCrawlFixture(t)

	run, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if run.Status != models.RunStatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.StopReason != models.StopSearchFetchFailed {
		t.Fatalf("expected search_fetch_failed, got %s", run.StopReason)
	}
}

func TestCrawlerSearchFailureOnLaterPage(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"})
	f.detail("a1")

	run, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err == nil {
		t.Fatalf("expected search error for page 2")
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.ListingsNew != 1 {
		t.Fatalf("expected records from page 1 to be kept, got %d", run.ListingsNew)
	}
}

func TestCrawlerDuplicatePagePolicy(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"})
	f.search(2, serpAd{id: "a2"})
	f.search(3)
	f.detail("a1")
	f.detail("a2")
	if !f.store.Persist(&models.ListingRecord{ListingID: "a1"}) {
		t.Fatalf("failed to seed store")
	}

	cfg := defaultCrawlConfig()
	cfg.DuplicatePagePolicy = config.DuplicatePageStop
	run, err := f.crawler(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.StopReason != models.StopDuplicatePage || run.PagesVisited != 1 {
		t.Fatalf("expected stop after page 1, got %s after %d pages", run.StopReason, run.PagesVisited)
	}

	run, err = f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.StopReason != models.StopNoListings || run.ListingsNew != 1 {
		t.Fatalf("expected continue policy to reach page 2, got %s with %d new", run.StopReason, run.ListingsNew)
	}
}

func TestCrawlerMaxPages(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"})
	f.search(2, serpAd{id: "a2"})
	f.detail("a1")
	f.detail("a2")

	cfg := defaultCrawlConfig()
	cfg.MaxPages = 1
	run, err := f.crawler(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.StopReason != models.StopMaxPages || run.PagesVisited != 1 {
		t.Fatalf("expected max_pages after 1 page, got %s after %d", run.StopReason, run.PagesVisited)
	}
}

func TestCrawlerCancelled(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := f.crawler(defaultCrawlConfig()).Run(ctx)
	if err != nil {
		t.Fatalf("expected no error on cancellation, got %v", err)
	}
	if run.StopReason != models.StopCancelled {
		t.Fatalf("expected cancelled, got %s", run.StopReason)
	}
}

type fakeImages struct {
	got map[string][]string
}

func (f *fakeImages) Download(ctx context.Context, listingID string, urls []string) string {
	f.got[listingID] = urls
	return "images/" + listingID + "/"
}

func TestCrawlerImages(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1", image: "https://img.example/thumb-a1.jpg"}, serpAd{id: "a2", image: "https://img.example/thumb-a2.jpg"})
	f.search(2)
	f.detail("a1")
	f.detail("a2", "https://img.example/a2-1.jpg", "https://img.example/a2-2.jpg")

	images := &fakeImages{got: map[string][]string{}}
	c := f.crawler(defaultCrawlConfig())
	c.SetImageDownloader(images)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got := images.got["a1"]; len(got) != 1 || got[0] != "https://img.example/thumb-a1.jpg" {
		t.Fatalf("expected summary image for a1, got %v", got)
	}
	if got := images.got["a2"]; len(got) != 2 {
		t.Fatalf("expected detail images for a2, got %v", got)
	}
	rec, err := f.store.Load("a1")
	if err != nil {
		t.Fatalf("load a1: %v", err)
	}
	if rec.ImageFolder != "images/a1/" {
		t.Fatalf("expected image folder images/a1/, got %q", rec.ImageFolder)
	}
}

type fakeRecorder struct {
	created int
	updated []models.CrawlRun
	logs    []string
	runIDs  []*int64
}

func (r *fakeRecorder) CreateRun(run *models.CrawlRun) (int64, error) {
	r.created++
	return 42, nil
}

func (r *fakeRecorder) UpdateRun(run *models.CrawlRun) error {
	r.updated = append(r.updated, *run)
	return nil
}

func (r *fakeRecorder) Log(runID *int64, level models.LogLevel, message, siteID string) error {
	r.logs = append(r.logs, message)
	r.runIDs = append(r.runIDs, runID)
	return nil
}

type failingMirror struct{ calls int }

func (m *failingMirror) UpsertListing(ctx context.Context, rec *models.ListingRecord) error {
	m.calls++
	return errors.New("connection refused")
}

func TestCrawlerRecordsRunAndMirrors(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"})
	f.search(2)
	f.detail("a1")

	rec := &fakeRecorder{}
	mirror := &failingMirror{}
	c := f.crawler(defaultCrawlConfig())
	c.SetRunRecorder(rec)
	c.SetMirror(mirror)

	run, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.ID != 42 || rec.created != 1 {
		t.Fatalf("expected run id 42 from recorder, got %d", run.ID)
	}
	if len(rec.updated) != 1 || rec.updated[0].Status != models.RunStatusCompleted || rec.updated[0].FinishedAt == nil {
		t.Fatalf("expected one final update with completed status, got %+v", rec.updated)
	}
	if len(rec.logs) == 0 {
		t.Fatalf("expected log lines to be recorded")
	}
	for _, id := range rec.runIDs {
		if id == nil || *id != 42 {
			t.Fatalf("expected log lines tied to run 42")
		}
	}
	if mirror.calls != 1 || run.ListingsNew != 1 {
		t.Fatalf("expected mirror failure to leave the record counted, got %d calls and %d new", mirror.calls, run.ListingsNew)
	}
}

func TestCrawlerRemembersSelectorListingsAcrossRuns(t *testing.T) {
	f := newCrawlFixture(t)
	detail := "https://ikman.lk/en/ad/house-for-sale-colombo-1022"
	f.fetcher.pages[f.site.SearchURL(1)] = `<html><body><ul>
<li class="normal--2QYVk"><a class="card-link--3ssYv" href="/en/ad/house-for-sale-colombo-1022"><h2 class="heading--2eONR">House for Sale in Colombo</h2></a></li>
</ul></body></html>`
	f.search(2)
	// The ad's own id differs from the id in its URL.
	f.fetcher.pages[detail] = detailPage("555")

	first, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.ListingsNew != 1 {
		t.Fatalf("expected 1 new listing, got %d", first.ListingsNew)
	}

	second, err := f.crawler(defaultCrawlConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second.ListingsNew != 0 || second.ListingsSkipped != 1 {
		t.Fatalf("expected 0 new and 1 skipped, got %d new and %d skipped", second.ListingsNew, second.ListingsSkipped)
	}
	if n := f.fetcher.calls[detail]; n != 1 {
		t.Fatalf("expected detail page fetched once across runs, got %d", n)
	}
}

func TestCrawlerStopPolicyIgnoresFailedListings(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"})
	f.search(2, serpAd{id: "a2"})
	f.search(3)
	f.detail("a2")

	cfg := defaultCrawlConfig()
	cfg.DuplicatePagePolicy = config.DuplicatePageStop
	run, err := f.crawler(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.StopReason != models.StopNoListings {
		t.Fatalf("expected crawl to continue past a page of failures, got %s", run.StopReason)
	}
	if run.ErrorsCount != 1 || run.ListingsNew != 1 || run.PagesVisited != 3 {
		t.Fatalf("unexpected counters %+v", run)
	}
}

func TestCrawlerStopPolicyOnMixedKnownAndFailed(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"}, serpAd{id: "gone"})
	f.search(2, serpAd{id: "a2"})
	f.detail("a2")
	if !f.store.Persist(&models.ListingRecord{ListingID: "a1"}) {
		t.Fatalf("failed to seed store")
	}

	cfg := defaultCrawlConfig()
	cfg.DuplicatePagePolicy = config.DuplicatePageStop
	cfg.MaxPages = 2
	run, err := f.crawler(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.ListingsNew != 1 || run.StopReason != models.StopMaxPages {
		t.Fatalf("expected page 2 to be reached, got %s with %d new", run.StopReason, run.ListingsNew)
	}
}

func TestCrawlerZeroTargetIsUnlimited(t *testing.T) {
	f := newCrawlFixture(t)
	f.search(1, serpAd{id: "a1"}, serpAd{id: "a2"})
	f.search(2)
	f.detail("a1")
	f.detail("a2")

	cfg := defaultCrawlConfig()
	cfg.TargetCount = 0
	run, err := f.crawler(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.StopReason != models.StopNoListings || run.ListingsNew != 2 {
		t.Fatalf("expected both listings and no_listings stop, got %s with %d new", run.StopReason, run.ListingsNew)
	}
}
