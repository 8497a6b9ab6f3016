package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"sitealerts/internal/config"
	"sitealerts/internal/counters"
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	flushJob *FlushJob

	// Tickers for each job type
	flushTicker *time.Ticker
	sweepTicker *time.Ticker
}

func NewScheduler(dbManager cartridge.DBManager, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.GetConfig()

	s := &Scheduler{
		dbManager: dbManager,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		cfg:       cfg,
	}

	s.flushJob = NewFlushJob(dbManager, logger, cfg)

	return s, nil
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")

	s.isRunning = true

	s.startFlushJob()
	s.startCounterSweepJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

// startFlushJob polls at the configured interval; the job itself decides
// whether yesterday's flush is due, so a missed tick or a restart right
// after the flush hour still catches up on the next one.
func (s *Scheduler) startFlushJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting daily flush job",
		slog.Duration("interval", interval),
		slog.Int("flush_hour", s.cfg.FlushHour))
	s.flushTicker = time.NewTicker(interval)

	go func() {
		s.executeJobSafely("daily_flush", s.flushJob.RunIfDue)

		for {
			select {
			case <-s.flushTicker.C:
				s.executeJobSafely("daily_flush", s.flushJob.RunIfDue)
			case <-s.ctx.Done():
				s.logger.Info("Daily flush job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startCounterSweepJob() {
	interval := time.Hour
	s.logger.Info("Starting counter sweep job", slog.Duration("interval", interval))
	s.sweepTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.sweepTicker.C:
				s.executeJobSafely("counter_sweep", s.sweepExpiredCounters)
			case <-s.ctx.Done():
				s.logger.Info("Counter sweep job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) sweepExpiredCounters() error {
	store := counters.NewStore(s.dbManager.GetConnection(), s.logger)
	deleted, err := store.PurgeExpired()
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.logger.Info("Swept expired counters", slog.Int64("deleted", deleted))
	}
	return nil
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}
	if s.sweepTicker != nil {
		s.sweepTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// Flush allows manual triggering of the daily flush, bypassing the
// flush-hour check.
func (s *Scheduler) Flush() error {
	if !s.enabled {
		return nil
	}
	return s.flushJob.Run()
}
