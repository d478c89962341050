package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ikman_scrooper/config"
	"ikman_scrooper/logging"
)

const maxPageSize = 10 * 1024 * 1024

// Fetcher retrieves one HTML page. Implementations apply their own rate
// limiting; callers never issue requests concurrently.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// pacing is the request discipline shared by every Fetcher: a fixed delay
// before each attempt and linear backoff between retries.
type pacing struct {
	delay       time.Duration
	maxRetries  int
	backoffBase time.Duration
	logger      *logging.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newPacing(cfg config.FetchConfig, logger *logging.Logger) pacing {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return pacing{
		delay:       cfg.Delay,
		maxRetries:  maxRetries,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// run calls attempt until it yields an HTML body. Transport errors and 5xx
// are retried; 4xx and non-HTML bodies fail at once.
func (p pacing) run(ctx context.Context, url string, attempt func(context.Context, string) (string, int, error)) (string, error) {
	var lastErr error
	var lastStatus int

	for n := 1; n <= p.maxRetries; n++ {
		if err := p.sleep(ctx, p.delay); err != nil {
			return "", err
		}

		body, status, err := attempt(ctx, url)
		if err == nil {
			if !looksLikeHTML(body) {
				return "", &FetchError{URL: url, Attempts: n, StatusCode: status,
					Err: errors.New("response is not an HTML document, possibly blocked")}
			}
			return body, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr, lastStatus = err, status
		if status >= 400 && status < 500 {
			return "", &FetchError{URL: url, Attempts: n, StatusCode: status, Err: err}
		}

		if n < p.maxRetries {
			backoff := p.backoffBase * time.Duration(n)
			p.logger.Warnf("fetch %s failed (attempt %d/%d): %v, retrying in %s", url, n, p.maxRetries, err, backoff)
			if err := p.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}
	}

	return "", &FetchError{URL: url, Attempts: p.maxRetries, StatusCode: lastStatus, Err: lastErr}
}

// HTTPFetcher performs GET requests with a fixed header set.
type HTTPFetcher struct {
	pacing
	client  *http.Client
	headers map[string]string
}

func NewHTTPFetcher(client *http.Client, cfg config.FetchConfig, headers map[string]string, logger *logging.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		pacing:  newPacing(cfg, logger),
		client:  client,
		headers: headers,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f.run(ctx, url, f.do)
}

func (f *HTTPFetcher) do(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", resp.StatusCode, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return string(data), resp.StatusCode, nil
}

func looksLikeHTML(body string) bool {
	return strings.Contains(strings.ToLower(body), "<html")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
