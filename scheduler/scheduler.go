package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"listing_canon/config"
	"listing_canon/logging"
	"listing_canon/models"
)

// BatchRunner processes one input directory.
type BatchRunner interface {
	RunDir(ctx context.Context, dir string) (*models.BatchRun, error)
}

// Scheduler re-runs the batch over the input directory on a cron expression
// or a fixed interval.
type Scheduler struct {
	cfg    *config.Config
	runner BatchRunner
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
}

func New(cfg *config.Config, runner BatchRunner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.InputDir == "" {
		return fmt.Errorf("no input directory configured")
	}

	if s.cfg.Scheduler.Cron != "" {
		logging.Infof("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.run(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		logging.Infof("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.run(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		logging.Infof("No schedule configured, daemon will only serve metrics")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.once.Do(func() {
		ctx := s.cron.Stop()
		<-ctx.Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

// TriggerNow runs one batch immediately.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	_, err := s.runner.RunDir(ctx, s.cfg.InputDir)
	return err
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.TriggerNow(ctx); err != nil {
		logging.Errorf("Scheduled run error: %v", err)
	}
}
