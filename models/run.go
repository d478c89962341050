package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Reasons a crawl stops.
const (
	StopTargetReached     = "target_reached"
	StopNoListings        = "no_listings"
	StopSearchFetchFailed = "search_fetch_failed"
	StopDuplicatePage     = "duplicate_page"
	StopMaxPages          = "max_pages"
	StopCancelled         = "cancelled"
)

type CrawlRun struct {
	ID              int64      `json:"id" db:"id"`
	RunKey          uuid.UUID  `json:"run_key" db:"run_key"`
	SiteID          string     `json:"site_id" db:"site_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	PagesVisited    int        `json:"pages_visited" db:"pages_visited"`
	ListingsFound   int        `json:"listings_found" db:"listings_found"`
	ListingsNew     int        `json:"listings_new" db:"listings_new"`
	ListingsSkipped int        `json:"listings_skipped" db:"listings_skipped"`
	ErrorsCount     int        `json:"errors_count" db:"errors_count"`
	StopReason      string     `json:"stop_reason" db:"stop_reason"`
}
