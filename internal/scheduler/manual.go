package scheduler

import (
	"sync"
	"time"
)

// Manual is a Scheduler that never fires on its own. Fire runs the job
// synchronously, which lets callers step a feed deterministically.
type Manual struct {
	mu       sync.Mutex
	job      func()
	interval time.Duration
	starts   int
}

// Start implements Scheduler.
func (m *Manual) Start(interval time.Duration, job func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != nil {
		return nil
	}
	m.job = job
	m.interval = interval
	m.starts++
	return nil
}

// Stop implements Scheduler.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.job = nil
	m.mu.Unlock()
}

// Running implements Scheduler.
func (m *Manual) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job != nil
}

// Fire runs the job n times if the scheduler is running. Returns false when
// stopped.
func (m *Manual) Fire(n int) bool {
	m.mu.Lock()
	job := m.job
	m.mu.Unlock()
	if job == nil {
		return false
	}
	for i := 0; i < n; i++ {
		job()
	}
	return true
}

// Interval returns the interval passed to the last Start.
func (m *Manual) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Starts returns how many times the scheduler went from stopped to running.
func (m *Manual) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}
