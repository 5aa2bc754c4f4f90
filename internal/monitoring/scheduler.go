// internal/monitoring/scheduler.go - Per-monitor timers feeding a worker pool
package monitoring

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vigil/internal/config"
	"vigil/internal/database"
)

// Job is the payload handed to a check worker. Workers re-fetch the monitor
// at execution time rather than trusting a stale snapshot.
type Job struct {
	MonitorID  string
	EnqueuedAt time.Time
}

type schedulerEntry struct {
	interval time.Duration // effective interval, jitter already applied
	cancel   chan struct{}
	runNow   chan struct{}
}

// Scheduler maintains one timer loop per active monitor and emits due check
// jobs on a bounded channel consumed by a fixed worker pool. It enforces one
// in-flight check per monitor: a tick firing while a check is running is
// dropped and the next tick is scheduled normally.
type Scheduler struct {
	cfg  config.MonitoringConfig
	jobs chan Job

	mu       sync.Mutex
	entries  map[string]*schedulerEntry
	inflight map[string]bool
	stopped  bool
	wg       sync.WaitGroup
}

func NewScheduler(cfg config.MonitoringConfig) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
		entries:  make(map[string]*schedulerEntry),
		inflight: make(map[string]bool),
	}
}

// Jobs returns the channel the worker pool consumes.
func (s *Scheduler) Jobs() <-chan Job {
	return s.jobs
}

// Register starts the timer loop for an active monitor. Duplicate
// registration is an integration error and rejected synchronously.
func (s *Scheduler) Register(monitor *database.Monitor) error {
	if !monitor.Active {
		return fmt.Errorf("monitor %s is not active", monitor.ID)
	}
	if monitor.Kind == database.MonitorWebhook {
		// Passive monitors receive results through the push endpoint
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.entries[monitor.ID]; exists {
		return fmt.Errorf("monitor %s is already registered", monitor.ID)
	}

	interval := monitor.IntervalDuration()
	if interval <= 0 {
		interval = s.cfg.DefaultInterval
	}

	entry := &schedulerEntry{
		interval: s.jittered(interval),
		cancel:   make(chan struct{}),
		runNow:   make(chan struct{}, 1),
	}
	s.entries[monitor.ID] = entry

	s.wg.Add(1)
	go s.loop(monitor.ID, entry)

	logrus.WithFields(logrus.Fields{
		"monitor":  monitor.ID,
		"interval": entry.interval,
	}).Debug("Monitor registered with scheduler")

	return nil
}

// Unregister cancels the monitor's timer immediately. A job already
// dispatched to a worker is allowed to complete; its result is discarded when
// the worker finds the monitor gone.
func (s *Scheduler) Unregister(monitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[monitorID]
	if !exists {
		return fmt.Errorf("monitor %s is not registered", monitorID)
	}

	close(entry.cancel)
	delete(s.entries, monitorID)
	delete(s.inflight, monitorID)

	logrus.WithField("monitor", monitorID).Debug("Monitor unregistered from scheduler")
	return nil
}

// Reschedule re-registers a monitor whose configuration changed. An inactive
// monitor is simply deregistered.
func (s *Scheduler) Reschedule(monitor *database.Monitor) error {
	s.mu.Lock()
	if entry, exists := s.entries[monitor.ID]; exists {
		close(entry.cancel)
		delete(s.entries, monitor.ID)
	}
	s.mu.Unlock()

	if !monitor.Active || monitor.Kind == database.MonitorWebhook {
		return nil
	}
	return s.Register(monitor)
}

// RunNow triggers an immediate check, e.g. right after monitor creation.
func (s *Scheduler) RunNow(monitorID string) error {
	s.mu.Lock()
	entry, exists := s.entries[monitorID]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("monitor %s is not registered", monitorID)
	}

	select {
	case entry.runNow <- struct{}{}:
	default:
		// A manual run is already pending
	}
	return nil
}

// Done clears the in-flight flag once a worker finished processing a job.
func (s *Scheduler) Done(monitorID string) {
	s.mu.Lock()
	delete(s.inflight, monitorID)
	s.mu.Unlock()
}

// Stop cancels all timers and closes the job channel once the timer loops
// have exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, entry := range s.entries {
		close(entry.cancel)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	close(s.jobs)
}

func (s *Scheduler) loop(monitorID string, entry *schedulerEntry) {
	defer s.wg.Done()

	timer := time.NewTimer(entry.interval)
	defer timer.Stop()

	for {
		select {
		case <-entry.cancel:
			return
		case <-entry.runNow:
			s.enqueue(monitorID)
		case <-timer.C:
			s.enqueue(monitorID)
			timer.Reset(entry.interval)
		}
	}
}

func (s *Scheduler) enqueue(monitorID string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.inflight[monitorID] {
		s.mu.Unlock()
		logrus.WithField("monitor", monitorID).Debug("Check already in flight, dropping tick")
		return
	}
	s.inflight[monitorID] = true
	s.mu.Unlock()

	select {
	case s.jobs <- Job{MonitorID: monitorID, EnqueuedAt: time.Now()}:
	default:
		logrus.WithField("monitor", monitorID).Warn("Job queue full, dropping job")
		s.Done(monitorID)
	}
}

// jittered spreads registrations of monitors sharing an interval by up to
// ±JitterFraction to avoid synchronized bursts.
func (s *Scheduler) jittered(interval time.Duration) time.Duration {
	fraction := s.cfg.JitterFraction
	if fraction <= 0 {
		return interval
	}
	span := float64(interval) * fraction
	offset := time.Duration((rand.Float64()*2 - 1) * span)
	return interval + offset
}
