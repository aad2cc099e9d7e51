package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/KafClaw/clienthub/internal/metrics"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	// CategoryStore jobs only touch the local database.
	CategoryStore JobCategory = "store"
	// CategoryNetwork jobs call external APIs, such as the calendar sync.
	CategoryNetwork JobCategory = "network"
	// CategoryNotify jobs post digests and alerts. They share a minute with
	// calendar sync, so they get their own slots.
	CategoryNotify  JobCategory = "notify"
	CategoryDefault JobCategory = "default"
)

// Job run statuses recorded per dispatch.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped_concurrency"
)

// Job defines a schedulable unit of work.
type Job struct {
	Name     string      // Unique job identifier.
	Cron     *CronExpr   // Parsed cron expression; nil runs on every tick.
	Category JobCategory // For semaphore selection.
	Run      func(ctx context.Context, now time.Time) error
}

// Config holds scheduler settings.
type Config struct {
	Enabled        bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval   time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	MaxConcStore   int           `json:"maxConcStore" envconfig:"MAX_CONC_STORE"`
	MaxConcNetwork int           `json:"maxConcNetwork" envconfig:"MAX_CONC_NETWORK"`
	MaxConcNotify  int           `json:"maxConcNotify" envconfig:"MAX_CONC_NOTIFY"`
	MaxConcDefault int           `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
	LockPath       string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:        true,
		TickInterval:   60 * time.Second,
		MaxConcStore:   1,
		MaxConcNetwork: 2,
		MaxConcNotify:  2,
		MaxConcDefault: 5,
		LockPath:       filepath.Join(home, ".clienthub", "scheduler.lock"),
	}
}

// RunRecorder persists the last status of each job.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, jobName, status string, runAt time.Time) error
}

// Scheduler manages job registration, tick dispatch, and concurrency control.
type Scheduler struct {
	cfg        Config
	runs       RunRecorder
	metrics    *metrics.Metrics
	jobs       map[string]*Job
	mu         sync.RWMutex
	semaphores map[JobCategory]*Semaphore
	lock       *FileLock
	inflight   sync.WaitGroup
}

// New creates a Scheduler. runs and m may be nil.
func New(cfg Config, runs RunRecorder, m *metrics.Metrics) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxConcStore <= 0 {
		cfg.MaxConcStore = def.MaxConcStore
	}
	if cfg.MaxConcNetwork <= 0 {
		cfg.MaxConcNetwork = def.MaxConcNetwork
	}
	if cfg.MaxConcNotify <= 0 {
		cfg.MaxConcNotify = def.MaxConcNotify
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = def.MaxConcDefault
	}
	if cfg.LockPath == "" {
		cfg.LockPath = def.LockPath
	}

	return &Scheduler{
		cfg:     cfg,
		runs:    runs,
		metrics: m,
		jobs:    make(map[string]*Job),
		semaphores: map[JobCategory]*Semaphore{
			CategoryStore:   NewSemaphore(cfg.MaxConcStore),
			CategoryNetwork: NewSemaphore(cfg.MaxConcNetwork),
			CategoryNotify:  NewSemaphore(cfg.MaxConcNotify),
			CategoryDefault: NewSemaphore(cfg.MaxConcDefault),
		},
		lock: NewFileLock(cfg.LockPath),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "category", job.Category)
}

// Unregister removes a job by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the current registered jobs (snapshot).
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Run starts the scheduler tick loop. Blocks until context is cancelled,
// then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", len(s.Jobs()))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.inflight.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// Tick runs one dispatch round for now and returns when its jobs finish.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.tick(ctx, now)
}

// tick is called every TickInterval. Acquires the global file lock, then
// dispatches any matching jobs. The lock is held until the dispatched jobs
// finish so a second process cannot run the same tick.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	s.mu.RLock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Cron == nil || job.Cron.Matches(now) {
			due = append(due, job)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, job := range due {
		s.dispatch(ctx, job, now, &wg)
	}
	wg.Wait()
}

// dispatch runs a job asynchronously if a semaphore slot is available.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, now time.Time, wg *sync.WaitGroup) {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryDefault]
	}

	if !sem.TryAcquire() {
		slog.Warn("Scheduler job skipped: concurrency limit", "job", job.Name, "category", job.Category)
		s.logJobRun(ctx, job.Name, StatusSkipped, now)
		return
	}

	slog.Debug("Scheduler dispatching job", "job", job.Name)
	wg.Add(1)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer wg.Done()
		defer sem.Release()

		status := StatusOK
		if err := job.Run(ctx, now); err != nil {
			status = StatusError
			slog.Warn("Scheduler job failed", "job", job.Name, "error", err)
		}
		s.logJobRun(ctx, job.Name, status, now)
	}()
}

// logJobRun persists the run status to the job_runs table (best-effort).
func (s *Scheduler) logJobRun(ctx context.Context, name, status string, tick time.Time) {
	s.metrics.JobRun(name, status)
	if s.runs == nil {
		return
	}
	if err := s.runs.RecordJobRun(ctx, name, status, tick); err != nil {
		slog.Warn("Scheduler job run not recorded", "job", name, "error", err)
	}
}
