package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metersync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SyncRunner syncs every linked meter
type SyncRunner interface {
	SyncAll(ctx context.Context) (metersync.Summary, error)
}

// Scheduler runs the periodic sync-all job
type Scheduler struct {
	cron     gocron.Scheduler
	runner   SyncRunner
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// New creates a scheduler. A zero interval yields a scheduler with no jobs.
func New(runner SyncRunner, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron,
		runner:   runner,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}

	if interval <= 0 {
		logger.Info("scheduled meter sync disabled")
		return s, nil
	}

	_, err = cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.syncAll),
		gocron.WithName("meter-sync-all"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule meter sync: %w", err)
	}
	return s, nil
}

func (s *Scheduler) syncAll() {
	start := time.Now()
	summary, err := s.runner.SyncAll(s.ctx)
	if err != nil {
		s.logger.Error("scheduled meter sync failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled meter sync finished",
		zap.Int("synced", summary.Synced),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)))
}

// Start begins running jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.interval > 0 {
		s.logger.Info("scheduled meter sync started", zap.Duration("interval", s.interval))
	}
}

// Stop cancels a running job and waits for the scheduler to shut down
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.cron.Shutdown()
}

// RegisterLifecycle ties the scheduler to the app lifecycle
func (s *Scheduler) RegisterLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return s.Stop()
		},
	})
}
