package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duplicate-page policies for a search page whose listings are all known.
const (
	DuplicatePageContinue = "continue"
	DuplicatePageStop     = "stop"
)

const (
	FetchModeHTTP    = "http"
	FetchModeBrowser = "browser"
)

type Config struct {
	Storage   StorageConfig
	Fetch     FetchConfig
	Crawl     CrawlConfig
	Proxy     ProxyConfig
	Scheduler SchedulerConfig
	Postgres  PostgresConfig
	S3        S3Config
	DBPath    string
	LogPath   string
	LogLevel  string
	Site      *SiteConfig
}

type StorageConfig struct {
	Dir string
}

type FetchConfig struct {
	Mode        string
	Delay       time.Duration
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

type CrawlConfig struct {
	TargetCount         int
	MaxPages            int
	DuplicatePagePolicy string
	MaxImages           int
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type PostgresConfig struct {
	DBURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type SiteConfig struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	BaseURL         string            `yaml:"base_url"`
	SearchPath      string            `yaml:"search_path"`
	PageParam       string            `yaml:"page_param"`
	DetailPath      string            `yaml:"detail_path"`
	DataMarker      string            `yaml:"data_marker"`
	DefaultCurrency string            `yaml:"default_currency"`
	AdPaths         []string          `yaml:"ad_paths"`
	SearchAdPaths   []string          `yaml:"search_ad_paths"`
	Headers         map[string]string `yaml:"headers"`
	Selectors       Selectors         `yaml:"selectors"`
}

type Selectors struct {
	ListingItem     string `yaml:"listing_item"`
	ListingLink     string `yaml:"listing_link"`
	ListingTitle    string `yaml:"listing_title"`
	ListingPrice    string `yaml:"listing_price"`
	ListingLocation string `yaml:"listing_location"`
	ListingImage    string `yaml:"listing_image"`
}

// SearchURL returns the search results URL for a 1-based page index.
func (s *SiteConfig) SearchURL(page int) string {
	u := strings.TrimRight(s.BaseURL, "/") + s.SearchPath
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", u, sep, url.QueryEscape(s.PageParam), page)
}

// DetailURL builds a listing URL from the slug found in embedded search data.
func (s *SiteConfig) DetailURL(slug string) string {
	return strings.TrimRight(s.BaseURL, "/") + s.DetailPath + strings.TrimLeft(slug, "/")
}

// DefaultSite is the ikman.lk property section as observed in page structure.
func DefaultSite() *SiteConfig {
	return &SiteConfig{
		ID:              "ikman",
		Name:            "ikman.lk",
		BaseURL:         "https://ikman.lk",
		SearchPath:      "/en/ads/sri-lanka/property",
		PageParam:       "page",
		DetailPath:      "/en/ad/",
		DataMarker:      "window.initialData",
		DefaultCurrency: "LKR",
		AdPaths:         []string{"adDetail.data.ad", "ad", "props.pageProps.ad"},
		SearchAdPaths:   []string{"serp.ads.data.ads"},
		Headers: map[string]string{
			"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Upgrade-Insecure-Requests": "1",
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
		},
		Selectors: Selectors{
			ListingItem:     "li.normal--2QYVk",
			ListingLink:     "a.card-link--3ssYv",
			ListingTitle:    "h2.heading--2eONR",
			ListingPrice:    "div.price--3SnqI",
			ListingLocation: "div.description--2-ez3",
			ListingImage:    "img.normal-ad--1TyjD",
		},
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Storage: StorageConfig{
			Dir: getEnv("STORAGE_DIR", "storage"),
		},
		Fetch: FetchConfig{
			Mode:        getEnv("FETCH_MODE", FetchModeHTTP),
			Delay:       time.Duration(getEnvInt("REQUEST_DELAY_MS", 1500)) * time.Millisecond,
			Timeout:     getEnvDuration("REQUEST_TIMEOUT", 20*time.Second),
			MaxRetries:  getEnvInt("MAX_RETRIES", 3),
			BackoffBase: time.Duration(getEnvInt("RETRY_BACKOFF_MS", 3000)) * time.Millisecond,
		},
		Crawl: CrawlConfig{
			TargetCount:         getEnvInt("TARGET_COUNT", 2000),
			MaxPages:            getEnvInt("MAX_PAGES", 0),
			DuplicatePagePolicy: getEnv("DUPLICATE_PAGE_POLICY", DuplicatePageContinue),
			MaxImages:           getEnvInt("MAX_IMAGES", 10),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Postgres: PostgresConfig{
			DBURL: os.Getenv("DATABASE_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		DBPath:   getEnv("DB_PATH", "scraper.db"),
		LogPath:  getEnv("LOG_PATH", "logs/scraper.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	site, err := LoadSite(getEnv("SITE_CONFIG", "config/sites/ikman.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Site = site

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSite overlays the YAML file at path on DefaultSite. A missing file
// yields the defaults.
func LoadSite(path string) (*SiteConfig, error) {
	site := DefaultSite()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return site, nil
		}
		return nil, err
	}

	headers := site.Headers
	site.Headers = nil
	if err := yaml.Unmarshal(data, site); err != nil {
		return nil, fmt.Errorf("parse site config %s: %w", path, err)
	}
	if site.Headers == nil {
		site.Headers = headers
	}
	return site, nil
}

func (c *Config) validate() error {
	switch c.Crawl.DuplicatePagePolicy {
	case DuplicatePageContinue, DuplicatePageStop:
	default:
		return fmt.Errorf("invalid DUPLICATE_PAGE_POLICY %q", c.Crawl.DuplicatePagePolicy)
	}
	switch c.Fetch.Mode {
	case FetchModeHTTP, FetchModeBrowser:
	default:
		return fmt.Errorf("invalid FETCH_MODE %q", c.Fetch.Mode)
	}
	if c.Crawl.TargetCount < 1 {
		return fmt.Errorf("invalid TARGET_COUNT %d: must be at least 1", c.Crawl.TargetCount)
	}
	if c.Fetch.MaxRetries < 1 {
		c.Fetch.MaxRetries = 1
	}
	if c.Site.DataMarker == "" {
		return fmt.Errorf("site %s: data_marker is required", c.Site.ID)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
