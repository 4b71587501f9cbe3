// Package scheduler runs healthclaw's background jobs (daily summaries,
// session pruning) on cron expressions using robfig/cron. Jobs are defined
// by configuration at startup, so nothing is persisted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single run.
const DefaultJobTimeout = 5 * time.Minute

// ErrDuplicateJob is returned when a job id is registered twice.
var ErrDuplicateJob = errors.New("job already registered")

// JobFunc is the work a job performs.
type JobFunc func(ctx context.Context) error

// Job is a recurring task.
type Job struct {
	// ID is the unique job identifier.
	ID string

	// Schedule is a 5-field cron expression or a descriptor
	// (@daily, @every 10m).
	Schedule string

	// Timeout overrides DefaultJobTimeout.
	Timeout time.Duration

	Run JobFunc
}

// Status is a snapshot of a job's last execution.
type Status struct {
	ID        string
	Schedule  string
	Next      time.Time
	LastRunAt time.Time
	LastError string
	RunCount  int
	Running   bool
}

type entry struct {
	job      Job
	cronID   cron.EntryID
	running  bool
	lastRun  time.Time
	lastErr  string
	runCount int
}

// Scheduler manages jobs on a cron.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]*entry
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler evaluating schedules in loc (UTC when nil).
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cron.NewParser(
				cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
		),
		entries: make(map[string]*entry),
		logger:  logger.With("component", "scheduler"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job. Invalid schedules are rejected.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" || job.Run == nil {
		return errors.New("job needs an id and a run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(e) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Schedule, job.ID, err)
	}
	e.cronID = id
	s.entries[job.ID] = e
	s.logger.Info("job registered", "id", job.ID, "schedule", job.Schedule)
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "jobs", n)
}

// Stop halts the cron and waits (up to ctx) for running jobs.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", id)
	}
	return s.execute(e)
}

// List returns the status of every job.
func (s *Scheduler) List() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Status{
			ID:        e.job.ID,
			Schedule:  e.job.Schedule,
			Next:      s.cron.Entry(e.cronID).Next,
			LastRunAt: e.lastRun,
			LastError: e.lastErr,
			RunCount:  e.runCount,
			Running:   e.running,
		})
	}
	return out
}

// execute runs a job unless it is still running from a previous fire.
func (s *Scheduler) execute(e *entry) (err error) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "id", e.job.ID)
		return nil
	}
	e.running = true
	e.lastRun = time.Now()
	e.runCount++
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("scheduled job panicked", "id", e.job.ID, "panic", r)
		}
		s.mu.Lock()
		e.running = false
		e.lastErr = ""
		if err != nil {
			e.lastErr = err.Error()
		}
		s.mu.Unlock()
	}()

	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	start := time.Now()
	err = e.job.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled job failed", "id", e.job.ID, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("scheduled job completed", "id", e.job.ID, "duration", time.Since(start))
	return nil
}
