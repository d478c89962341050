package models

import (
	"fmt"
	"time"
)

// LogLevel is the severity of a crawl log line. Debug output stays in the
// process log and is never stored.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// CrawlLog is one line of a crawl's progress as stored in the run database.
// RunID is nil for lines written before the run row existed.
type CrawlLog struct {
	ID       int64     `json:"id" db:"id"`
	RunID    *int64    `json:"run_id" db:"run_id"`
	LoggedAt time.Time `json:"logged_at" db:"timestamp"`
	Level    LogLevel  `json:"level" db:"level"`
	Message  string    `json:"message" db:"message"`
	SiteID   string    `json:"site_id" db:"site_id"`
}

// Line renders the entry the way the operator history view prints it.
func (l CrawlLog) Line() string {
	return fmt.Sprintf("%s [%-5s] %s: %s", l.LoggedAt.Local().Format("15:04:05"), l.Level, l.SiteID, l.Message)
}
