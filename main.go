package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ikman_scrooper/config"
	"ikman_scrooper/httputil"
	"ikman_scrooper/logging"
	"ikman_scrooper/models"
	"ikman_scrooper/scheduler"
	"ikman_scrooper/scraper"
	"ikman_scrooper/storage"
	"ikman_scrooper/workers"
)

var (
	debugURL = flag.String("debug", "", "Fetch one page, save it to debug_page.html and show what extraction sees")
	send     = flag.String("send", "", "Queue a command for a running daemon: scrape_now, pause or resume")
	history  = flag.Int("history", 0, "Print the last N crawl runs and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.Setup(cfg.LogPath, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	clients := httputil.NewClients(&cfg.Fetch, &cfg.Proxy)
	fetcher, closeFetcher := newFetcher(cfg, clients, logger)
	defer closeFetcher()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *debugURL != "" {
		if err := scraper.Inspect(ctx, fetcher, cfg.Site, scraper.InspectOptions{URL: *debugURL}); err != nil {
			logger.Errorf("inspection failed: %v", err)
			os.Exit(1)
		}
		return
	}

	logger.Infof("starting ikman_scrooper for %s (%s)", cfg.Site.Name, cfg.Site.BaseURL)

	runDB, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Warnf("run history disabled, failed to open SQLite %s: %v", cfg.DBPath, err)
	} else {
		defer runDB.Close()
		logger.Infof("SQLite database: %s", cfg.DBPath)
	}

	if *send != "" || *history > 0 {
		if runDB == nil {
			log.Fatalf("SQLite database %s is required for -send and -history", cfg.DBPath)
		}
		if err := runOperatorCommand(runDB, *send, *history); err != nil {
			log.Fatal(err)
		}
		return
	}

	files, err := storage.NewFileStore(cfg.Storage.Dir, logger)
	if err != nil {
		logger.Errorf("failed to initialize storage: %v", err)
		os.Exit(1)
	}
	logger.Infof("storage directory: %s", cfg.Storage.Dir)

	crawler := scraper.NewCrawler(cfg.Site, cfg.Crawl, fetcher, files, logger)

	media := workers.NewMediaWorker(clients.Media, files.ImagesDir(), cfg.Site.Headers, cfg.Crawl.MaxImages, logger)
	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			logger.Warnf("S3 mirror disabled: %v", err)
		} else {
			media.SetUploader(uploader)
			logger.Infof("mirroring images to %s", uploader.PublicURL("listings/"))
		}
	}
	crawler.SetImageDownloader(media)

	if runDB != nil {
		crawler.SetRunRecorder(runDB)
	}

	if cfg.Postgres.DBURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Postgres.DBURL)
		if err != nil {
			logger.Warnf("Postgres mirror disabled: %v", err)
		} else {
			defer pgStore.Close()
			crawler.SetMirror(pgStore)
			logger.Infof("connected to Postgres: %s", maskConnectionString(cfg.Postgres.DBURL))
		}
	}

	if !scheduler.Enabled(cfg.Scheduler) {
		run, err := crawler.Run(ctx)
		if err != nil && run.Status == models.RunStatusFailed {
			logger.Errorf("crawl failed: %v", err)
			os.Exit(1)
		}
		logger.Infof("scraping completed: %d new listings", run.ListingsNew)
		return
	}

	// Daemon mode
	var commands scheduler.CommandStore
	if runDB != nil {
		commands = runDB
	}
	sched := scheduler.New(cfg.Scheduler, crawler, commands, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Errorf("failed to start scheduler: %v", err)
		os.Exit(1)
	}

	sched.TriggerNow(ctx)

	logger.Infof("daemon running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Infof("shutting down...")
	sched.Stop()
	logger.Infof("goodbye!")
}

func newFetcher(cfg *config.Config, clients *httputil.Clients, logger *logging.Logger) (scraper.Fetcher, func()) {
	if cfg.Fetch.Mode == config.FetchModeBrowser {
		bf := scraper.NewBrowserFetcher(cfg.Fetch, cfg.Site.Headers, logger)
		return bf, bf.Close
	}
	return scraper.NewHTTPFetcher(clients.Scraping, cfg.Fetch, cfg.Site.Headers, logger), func() {}
}

func runOperatorCommand(db *storage.SQLiteStore, cmd string, n int) error {
	if cmd != "" {
		switch models.CommandType(cmd) {
		case models.CmdScrapeNow, models.CmdPause, models.CmdResume:
		default:
			return fmt.Errorf("unknown command %q", cmd)
		}
		if err := db.EnqueueCommand(models.CommandType(cmd)); err != nil {
			return fmt.Errorf("queue command: %w", err)
		}
		fmt.Printf("queued %s\n", cmd)
	}

	if n <= 0 {
		return nil
	}
	runs, err := db.RecentRuns(n)
	if err != nil {
		return fmt.Errorf("read runs: %w", err)
	}
	if len(runs) == 0 {
		return errors.New("no crawl runs recorded yet")
	}
	if last, err := db.GetLastRunTime(runs[0].SiteID); err == nil && !last.IsZero() {
		fmt.Printf("last run of %s started %s\n\n", runs[0].SiteID, last.Format("2006-01-02 15:04:05"))
	}
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s  %s  %-9s  %-19s  pages=%d found=%d new=%d skipped=%d errors=%d  finished=%s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.RunKey, r.Status, r.StopReason,
			r.PagesVisited, r.ListingsFound, r.ListingsNew, r.ListingsSkipped, r.ErrorsCount, finished)
	}

	logs, err := db.LogsForRun(runs[0].ID)
	if err != nil {
		return fmt.Errorf("read logs: %w", err)
	}
	fmt.Printf("\nlast run log (%d lines):\n", len(logs))
	for _, l := range logs {
		fmt.Println(l.Line())
	}
	return nil
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
