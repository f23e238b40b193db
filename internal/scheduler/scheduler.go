// Package scheduler runs automated sync jobs: a frequent incremental
// sync and a once-daily full sync, guarded so the two never overlap.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	syncer "github.com/mandari/ingestor/internal/sync"
)

// Config controls job timing.
type Config struct {
	IncrementalInterval time.Duration
	FullSyncHour        int // 0-23, local to the process's timezone
}

func (c Config) withDefaults() Config {
	if c.IncrementalInterval <= 0 {
		c.IncrementalInterval = 15 * time.Minute
	}
	if c.FullSyncHour < 0 || c.FullSyncHour > 23 {
		c.FullSyncHour = 3
	}
	return c
}

// JobStats summarizes the most recent run of one job.
type JobStats struct {
	LastRun    time.Time
	Duration   time.Duration
	Entities   int
	Errors     int
	LastError  string
}

// Status is a snapshot of scheduler state, suitable for the CLI's
// `status` command or a health endpoint.
type Status struct {
	Running     bool
	Syncing     bool
	Incremental JobStats
	Full        JobStats
	NextIncremental time.Time
	NextFull        time.Time
}

// Scheduler drives an Orchestrator on a timer. Only one sync (of either
// kind) runs at a time: an incremental tick that lands mid-full-sync is
// skipped rather than queued, matching the single-flight guard the jobs
// require to avoid double-processing a body.
type Scheduler struct {
	orch   *syncer.Orchestrator
	logger *slog.Logger
	cfg    Config

	syncing atomic.Bool

	mu              sync.RWMutex
	running         bool
	incremental     JobStats
	full            JobStats
	nextIncremental time.Time
	nextFull        time.Time

	stop   chan struct{}
	done   chan struct{}
}

// New creates a Scheduler. Call Start to begin running jobs.
func New(orch *syncer.Orchestrator, logger *slog.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		orch:   orch,
		logger: logger,
		cfg:    cfg.withDefaults(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs an initial incremental sync immediately, then launches the
// background loop that fires incremental syncs on an interval and a
// full sync once a day at the configured hour. It blocks until ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.nextIncremental = time.Now().Add(s.cfg.IncrementalInterval)
	s.nextFull = nextOccurrence(time.Now(), s.cfg.FullSyncHour)
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		"incremental_interval", s.cfg.IncrementalInterval,
		"full_sync_hour", s.cfg.FullSyncHour)

	s.runIncremental(ctx)
	s.loop(ctx)
}

// Stop signals the background loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	incrementalTicker := time.NewTicker(s.cfg.IncrementalInterval)
	defer incrementalTicker.Stop()

	fullTimer := time.NewTimer(time.Until(nextOccurrence(time.Now(), s.cfg.FullSyncHour)))
	defer fullTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-incrementalTicker.C:
			s.mu.Lock()
			s.nextIncremental = time.Now().Add(s.cfg.IncrementalInterval)
			s.mu.Unlock()
			s.runIncremental(ctx)
		case <-fullTimer.C:
			next := nextOccurrence(time.Now(), s.cfg.FullSyncHour)
			s.mu.Lock()
			s.nextFull = next
			s.mu.Unlock()
			fullTimer.Reset(time.Until(next))
			s.runFull(ctx)
		}
	}
}

func (s *Scheduler) runIncremental(ctx context.Context) {
	s.run(ctx, false, &s.incremental, "incremental sync")
}

func (s *Scheduler) runFull(ctx context.Context) {
	s.run(ctx, true, &s.full, "full sync")
}

func (s *Scheduler) run(ctx context.Context, full bool, stats *JobStats, label string) {
	if !s.syncing.CompareAndSwap(false, true) {
		s.logger.Warn("sync already in progress, skipping", "job", label)
		return
	}
	defer s.syncing.Store(false)

	start := time.Now()
	s.logger.Info("sync starting", "job", label)

	results, err := s.orch.SyncAll(ctx, full)

	var entities, errCount int
	var lastErr string
	for _, r := range results {
		entities += r.EntitiesSynced
		errCount += r.Errors
	}
	if err != nil {
		lastErr = err.Error()
		s.logger.Error("sync failed", "job", label, "error", err)
	} else {
		s.logger.Info("sync completed", "job", label, "duration", time.Since(start), "entities", entities, "errors", errCount)
	}

	s.mu.Lock()
	*stats = JobStats{
		LastRun:   start,
		Duration:  time.Since(start),
		Entities:  entities,
		Errors:    errCount,
		LastError: lastErr,
	}
	s.mu.Unlock()
}

// Status returns a snapshot of the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:         s.running,
		Syncing:         s.syncing.Load(),
		Incremental:     s.incremental,
		Full:            s.full,
		NextIncremental: s.nextIncremental,
		NextFull:        s.nextFull,
	}
}

// nextOccurrence returns the next time hour:00:00 occurs strictly after
// now, rolling over to tomorrow if that hour has already passed today.
func nextOccurrence(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
