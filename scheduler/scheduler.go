package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"ikman_scrooper/config"
	"ikman_scrooper/logging"
	"ikman_scrooper/models"
)

// Runner is one crawl.
type Runner interface {
	Run(ctx context.Context) (*models.CrawlRun, error)
}

// CommandStore is the queue of operator commands.
type CommandStore interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	runner   Runner
	commands CommandStore
	logger   *logging.Logger

	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool
	paused  atomic.Bool

	pollInterval time.Duration
}

func New(cfg config.SchedulerConfig, runner Runner, commands CommandStore, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		commands:     commands,
		logger:       logger,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: 2 * time.Second,
	}
}

// Enabled reports whether a cron expression or interval is configured.
func Enabled(cfg config.SchedulerConfig) bool {
	return cfg.Cron != "" || cfg.Interval > 0
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.commands != nil {
		s.wg.Add(1)
		go s.pollCommands(ctx)
	}

	if s.cfg.Cron != "" {
		s.logger.Infof("starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.TriggerNow(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Infof("starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.TriggerNow(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Infof("no schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerNow runs one crawl unless the scheduler is paused or a crawl is
// already in progress. It reports whether a crawl ran.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	if s.paused.Load() {
		s.logger.Infof("scraper is paused, skipping run")
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warnf("previous crawl still running, skipping")
		return false
	}
	defer s.running.Store(false)

	run, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Errorf("scheduled run error: %v", err)
	}
	if run != nil {
		s.logger.Infof("run %s finished: %s, %d new listings", run.RunKey, run.StopReason, run.ListingsNew)
	}
	return true
}

func (s *Scheduler) IsPaused() bool {
	return s.paused.Load()
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.commands.GetPendingCommands()
			if err != nil {
				s.logger.Errorf("error getting commands: %v", err)
				continue
			}

			// Commands are marked before they run so a long crawl is not
			// picked up again by the next poll.
			for _, cmd := range cmds {
				s.logger.Infof("processing command: %s", cmd.Command)
				if err := s.commands.MarkCommandProcessed(cmd.ID); err != nil {
					s.logger.Errorf("error marking command processed: %v", err)
				}
				s.handleCommand(ctx, cmd)
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd models.Command) {
	switch cmd.Command {
	case models.CmdScrapeNow:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.TriggerNow(ctx)
		}()
	case models.CmdPause:
		s.paused.Store(true)
		s.logger.Infof("scraper paused")
	case models.CmdResume:
		s.paused.Store(false)
		s.logger.Infof("scraper resumed")
	default:
		s.logger.Warnf("unknown command %q", cmd.Command)
	}
}
