// Package scheduler drives periodic jobs for the feed. The engine itself has
// no notion of time; a Scheduler calls back into it on a fixed period and can
// be stopped and restarted without touching engine state.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidInterval is returned by Start for non-positive intervals.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Scheduler starts and stops a single periodic job.
type Scheduler interface {
	// Start begins calling job every interval. Starting a running scheduler
	// is a no-op.
	Start(interval time.Duration, job func()) error
	// Stop halts the schedule and waits for an in-flight job to return.
	Stop()
	Running() bool
}

// CronScheduler runs the job on a robfig/cron instance. Overlapping runs are
// skipped rather than queued, so a slow job never executes concurrently with
// itself.
type CronScheduler struct {
	name   string
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewCron creates a stopped scheduler. name is used in log lines.
func NewCron(name string, logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{name: name, logger: logger.With(slog.String("scheduler", name))}
}

// Start implements Scheduler.
func (s *CronScheduler) Start(interval time.Duration, job func()) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	c.Schedule(every(interval), cron.FuncJob(job))
	c.Start()
	s.cron = c

	s.logger.Info("scheduler started", slog.Duration("interval", interval))
	return nil
}

// Stop implements Scheduler.
func (s *CronScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Running implements Scheduler.
func (s *CronScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// every is a constant-delay schedule. Unlike cron's "@every" it keeps
// sub-second precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
