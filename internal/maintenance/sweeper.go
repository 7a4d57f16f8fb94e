package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/jobprogress/internal/jobprogress"
)

// SweeperConfig holds sweeper configuration. A zero interval disables the
// corresponding sweep.
type SweeperConfig struct {
	Logger          *slog.Logger
	Session         *jobprogress.Session
	StaleInterval   time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	Archiver        Archiver
	SweepTimeout    time.Duration
}

// Sweeper runs FailStaledJobs and CleanupReadyJobs on fixed intervals.
// Sweep errors are logged and never stop the loops.
type Sweeper struct {
	logger          *slog.Logger
	session         *jobprogress.Session
	staleInterval   time.Duration
	cleanupInterval time.Duration
	sweepTimeout    time.Duration
	cleanupOpts     CleanupOptions

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSweeper creates a new sweeper instance
func NewSweeper(cfg *SweeperConfig) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.SweepTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Sweeper{
		logger:          logger,
		session:         cfg.Session,
		staleInterval:   cfg.StaleInterval,
		cleanupInterval: cfg.CleanupInterval,
		sweepTimeout:    timeout,
		cleanupOpts: CleanupOptions{
			Retention: cfg.Retention,
			Archiver:  cfg.Archiver,
			Logger:    logger,
		},
		stopChan: make(chan struct{}),
	}
}

// Start launches one loop per enabled sweep. The loops end when ctx is
// canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		if s.staleInterval > 0 {
			s.wg.Add(1)
			go s.loop(ctx, "fail_staled_jobs", s.staleInterval, s.failStaled)
		}
		if s.cleanupInterval > 0 {
			s.wg.Add(1)
			go s.loop(ctx, "cleanup_ready_jobs", s.cleanupInterval, s.cleanupReady)
		}

		s.logger.Info("Sweeper started",
			slog.Duration("stale_interval", s.staleInterval),
			slog.Duration("cleanup_interval", s.cleanupInterval),
			slog.Duration("retention", s.cleanupOpts.Retention),
		)
	})
}

// Stop signals the loops to stop and waits for the running sweeps
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping sweeper...")
		close(s.stopChan)
		s.wg.Wait()
		s.logger.Info("Sweeper stopped")
	})
}

func (s *Sweeper) loop(ctx context.Context, name string, interval time.Duration, sweep func(ctx context.Context) (int, error)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, name, sweep)
		}
	}
}

func (s *Sweeper) run(ctx context.Context, name string, sweep func(ctx context.Context) (int, error)) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := sweep(sweepCtx)
	if err != nil {
		s.logger.Error("Sweep failed",
			slog.String("sweep", name),
			slog.Int("affected", n),
			slog.String("error", err.Error()),
		)
		return
	}

	if n > 0 {
		s.logger.Info("Sweep completed",
			slog.String("sweep", name),
			slog.Int("affected", n),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Sweeper) failStaled(ctx context.Context) (int, error) {
	return FailStaledJobs(ctx, s.session, s.logger)
}

func (s *Sweeper) cleanupReady(ctx context.Context) (int, error) {
	return CleanupReadyJobs(ctx, s.session, s.cleanupOpts)
}
