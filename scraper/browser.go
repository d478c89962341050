package scraper

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"

	"ikman_scrooper/config"
	"ikman_scrooper/logging"
)

// BrowserFetcher renders pages in headless Chromium for sites that only
// emit their page state after client-side scripts run. The browser starts
// on first use and is reused until Close.
type BrowserFetcher struct {
	pacing
	headers map[string]string
	timeout float64

	mu          sync.Mutex
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	page        playwright.Page
	initialized bool
}

func NewBrowserFetcher(cfg config.FetchConfig, headers map[string]string, logger *logging.Logger) *BrowserFetcher {
	return &BrowserFetcher{
		pacing:  newPacing(cfg, logger),
		headers: headers,
		timeout: float64(cfg.Timeout.Milliseconds()),
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := f.ensureBrowser(); err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	return f.run(ctx, url, f.render)
}

func (f *BrowserFetcher) render(ctx context.Context, url string) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	resp, err := f.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(f.timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return "", 0, fmt.Errorf("navigate: %w", err)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
		if status >= 400 {
			return "", status, fmt.Errorf("http status %d", status)
		}
	}

	content, err := f.page.Content()
	if err != nil {
		return "", status, fmt.Errorf("read page content: %w", err)
	}
	return content, status, nil
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	f.browser, err = f.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	opts := playwright.BrowserNewContextOptions{ExtraHttpHeaders: map[string]string{}}
	for k, v := range f.headers {
		if k == "User-Agent" {
			opts.UserAgent = playwright.String(v)
			continue
		}
		opts.ExtraHttpHeaders[k] = v
	}
	f.context, err = f.browser.NewContext(opts)
	if err != nil {
		f.browser.Close()
		f.pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	f.page, err = f.context.NewPage()
	if err != nil {
		f.context.Close()
		f.browser.Close()
		f.pw.Stop()
		return fmt.Errorf("failed to create page: %w", err)
	}

	f.initialized = true
	f.logger.Infof("headless browser started")
	return nil
}

func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return
	}
	if f.page != nil {
		f.page.Close()
		f.page = nil
	}
	if f.context != nil {
		f.context.Close()
	}
	if f.browser != nil {
		f.browser.Close()
	}
	if f.pw != nil {
		f.pw.Stop()
	}
	f.initialized = false
}
