// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/notifications"
)

const lockShards = 64

// Event is pushed to subscribers (the websocket hub) on status transitions
// and incident lifecycle changes.
type Event struct {
	Type      string      `json:"type"` // "transition" | "incident"
	MonitorID string      `json:"monitor_id"`
	Data      interface{} `json:"data"`
}

// Engine wires the scheduler, prober, evaluator, incident manager and
// escalation engine together and runs the check worker pool.
type Engine struct {
	cfg        *config.Config
	store      database.Store
	metrics    *metrics.Collector
	prober     *Prober
	inspector  *SSLInspector
	evaluator  *Evaluator
	incidents  *IncidentManager
	escalator  *Escalator
	scheduler  *Scheduler
	dispatcher *notifications.Dispatcher

	// Per-monitor serialization of result processing: results for one
	// monitor are observed in order, different monitors in parallel.
	shards [lockShards]sync.Mutex

	events  chan Event
	workers sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewEngine(cfg *config.Config, store database.Store, metricsCollector *metrics.Collector) *Engine {
	dispatcher := notifications.NewDispatcher(cfg.Notifications, metricsCollector)
	escalator := NewEscalator(store, dispatcher, metricsCollector)

	return &Engine{
		cfg:        cfg,
		store:      store,
		metrics:    metricsCollector,
		prober:     NewProber(cfg.Monitoring.DefaultTimeout),
		inspector:  NewSSLInspector(cfg.Monitoring.SSLTimeout),
		evaluator:  NewEvaluator(),
		incidents:  NewIncidentManager(store, dispatcher, escalator),
		escalator:  escalator,
		scheduler:  NewScheduler(cfg.Monitoring),
		dispatcher: dispatcher,
		events:     make(chan Event, 256),
	}
}

// Start registers all currently-active monitors (recovering from a restart
// without waiting for external re-registration) and launches the worker pool
// and history cleanup loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	logrus.WithField("workers", e.cfg.Monitoring.Workers).Info("Starting monitoring engine")

	if err := e.registerActiveMonitors(ctx); err != nil {
		return err
	}

	for i := 0; i < e.cfg.Monitoring.Workers; i++ {
		e.workers.Add(1)
		go e.worker(ctx, i)
	}

	go e.runHistoryCleanup(ctx)

	return nil
}

// Stop performs a graceful shutdown: no new jobs are accepted, in-flight
// probes get up to the grace timeout to finish.
func (e *Engine) Stop(grace time.Duration) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	logrus.Info("Stopping monitoring engine")

	e.scheduler.Stop()
	e.escalator.Stop()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		logrus.Warn("Shutdown grace period elapsed with checks still in flight")
	}
}

func (e *Engine) registerActiveMonitors(ctx context.Context) error {
	active := true
	monitors, err := e.store.GetMonitors(ctx, database.MonitorFilters{Active: &active})
	if err != nil {
		return fmt.Errorf("failed to load active monitors: %w", err)
	}

	registered := 0
	for i := range monitors {
		monitor := monitors[i]
		if monitor.Kind == database.MonitorWebhook {
			continue
		}
		if err := e.scheduler.Register(&monitor); err != nil {
			logrus.WithError(err).WithField("monitor", monitor.ID).Error("Failed to register monitor")
			continue
		}
		registered++
	}

	logrus.WithField("count", registered).Info("Re-registered active monitors")
	return nil
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.workers.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-e.scheduler.Jobs():
			if !ok {
				return
			}
			e.runCheck(job)
		}
	}
}

func (e *Engine) runCheck(job Job) {
	defer e.scheduler.Done(job.MonitorID)

	// In-flight checks ride out a shutdown signal: the probe context is
	// detached so the grace drain in Stop can let them finish cleanly.
	ctx := context.Background()

	// Re-fetch the monitor so config edits mid-flight take effect now
	monitor, err := e.store.GetMonitor(ctx, job.MonitorID)
	if err != nil {
		// Monitor deleted after the tick fired: discard silently
		logrus.WithField("monitor", job.MonitorID).Debug("Discarding check for missing monitor")
		return
	}
	if !monitor.Active {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.prober.Timeout(monitor))
	result := e.prober.Probe(probeCtx, monitor)
	cancel()

	// The monitor may have been deleted or paused while the probe was in
	// flight; ingesting now would resurrect the record through SaveMonitor.
	monitor, err = e.store.GetMonitor(ctx, job.MonitorID)
	if err != nil {
		logrus.WithField("monitor", job.MonitorID).Debug("Discarding result for deleted monitor")
		return
	}
	if !monitor.Active {
		return
	}

	e.metrics.RecordCheckResult(monitor.Name, result, result.Latency)

	if err := e.Ingest(ctx, monitor, result); err != nil {
		logrus.WithError(err).WithField("monitor", monitor.ID).Error("Failed to process check result")
	}
}

// Ingest runs one check result through the evaluator and incident manager.
// Results for the same monitor are strictly serialized; this is the only
// writer of the monitor's status and counters.
func (e *Engine) Ingest(ctx context.Context, monitor *database.Monitor, result *database.CheckResult) error {
	lock := e.lockFor(monitor.ID)
	lock.Lock()
	defer lock.Unlock()

	transition := e.evaluator.Observe(monitor, result)

	// Persistence is fire-and-forget for the state machine: a transient
	// storage error must not lose in-memory correctness.
	if err := e.store.AppendResult(ctx, result); err != nil {
		logrus.WithError(err).WithField("monitor", monitor.ID).Warn("Failed to persist check result, retrying once")
		if err := e.store.AppendResult(ctx, result); err != nil {
			logrus.WithError(err).WithField("monitor", monitor.ID).Error("Dropping check result after retry")
		}
	}
	if err := e.store.SaveMonitor(ctx, monitor); err != nil {
		logrus.WithError(err).WithField("monitor", monitor.ID).Error("Failed to persist monitor state")
	}

	e.metrics.UpdateMonitorStatus(monitor.Name, monitor.Status)

	if transition == nil {
		return nil
	}

	e.emit(Event{Type: "transition", MonitorID: monitor.ID, Data: transition})

	incident, err := e.incidents.HandleTransition(ctx, monitor, transition)
	if err != nil {
		return err
	}
	if incident != nil {
		e.emit(Event{Type: "incident", MonitorID: monitor.ID, Data: incident})
	}
	return nil
}

// PushStatus feeds an external webhook status update into the evaluator as
// if it were a check result. Only webhook-driven monitors accept pushes.
// eventID is the sender's idempotency key; a replayed delivery with the same
// key is dropped by the duplicate guard. When the sender provides none, the
// ID is derived from the push content so an immediate retransmission still
// deduplicates.
func (e *Engine) PushStatus(ctx context.Context, monitorID, status, message, eventID string) error {
	monitor, err := e.store.GetMonitor(ctx, monitorID)
	if err != nil {
		return err
	}
	if monitor.Kind != database.MonitorWebhook {
		return fmt.Errorf("monitor %s is not webhook-driven", monitorID)
	}

	switch status {
	case "up", "down", "degraded":
	default:
		return fmt.Errorf("invalid status %q", status)
	}

	now := time.Now()
	resultID := eventID
	if resultID == "" {
		seed := fmt.Sprintf("%s|%s|%s|%d", monitorID, status, message, now.Unix())
		resultID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
	}

	result := &database.CheckResult{
		ID:        resultID,
		MonitorID: monitorID,
		Timestamp: now,
		Success:   status == "up",
		Degraded:  status == "degraded",
		Detail:    message,
	}
	if !result.Success {
		result.Failure = database.FailureOther
		if result.Detail == "" {
			result.Detail = "reported " + status + " via webhook"
		}
	}

	return e.Ingest(ctx, monitor, result)
}

// MonitorChanged is called by the CRUD layer after a monitor's configuration
// was created or edited.
func (e *Engine) MonitorChanged(monitor *database.Monitor) error {
	return e.scheduler.Reschedule(monitor)
}

// MonitorDeleted deregisters the monitor's timer immediately and drops its
// in-memory evaluation state.
func (e *Engine) MonitorDeleted(monitorID string) {
	if err := e.scheduler.Unregister(monitorID); err != nil {
		// Webhook-driven or inactive monitors were never registered
		logrus.WithField("monitor", monitorID).Debug("Monitor was not registered with scheduler")
	}
	e.evaluator.Forget(monitorID)
}

// RunNow triggers a manual check outside the regular cadence.
func (e *Engine) RunNow(monitorID string) error {
	return e.scheduler.RunNow(monitorID)
}

// InspectTLS exposes the SSL inspector for on-demand certificate checks.
func (e *Engine) InspectTLS(ctx context.Context, host string) *SSLInfo {
	return e.inspector.InspectTLS(ctx, host)
}

// Acknowledge, Resolve and AddUpdate forward operator actions to the
// incident manager and publish the resulting incident state.
func (e *Engine) Acknowledge(ctx context.Context, incidentID, by string) (*database.Incident, error) {
	incident, err := e.incidents.Acknowledge(ctx, incidentID, by)
	if err == nil {
		e.emit(Event{Type: "incident", MonitorID: incident.MonitorID, Data: incident})
	}
	return incident, err
}

func (e *Engine) Resolve(ctx context.Context, incidentID string) (*database.Incident, error) {
	incident, err := e.incidents.Resolve(ctx, incidentID)
	if err == nil {
		e.emit(Event{Type: "incident", MonitorID: incident.MonitorID, Data: incident})
	}
	return incident, err
}

func (e *Engine) AddUpdate(ctx context.Context, incidentID, message string) (*database.Incident, error) {
	return e.incidents.AddUpdate(ctx, incidentID, message)
}

// Events returns the stream consumed by the websocket hub.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(event Event) {
	select {
	case e.events <- event:
	default:
		// No subscriber draining fast enough; events are advisory only
	}
}

func (e *Engine) lockFor(monitorID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(monitorID))
	return &e.shards[h.Sum32()%lockShards]
}

// runHistoryCleanup prunes check results past the retention window.
func (e *Engine) runHistoryCleanup(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Database.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-e.cfg.Database.HistoryRetention)
			deleted, err := e.store.DeleteResultsBefore(ctx, cutoff)
			if err != nil {
				logrus.WithError(err).Error("History cleanup failed")
				continue
			}
			if deleted > 0 {
				logrus.WithField("deleted", deleted).Info("Pruned check history")
			}
		}
	}
}

// IsInvalidTransition reports whether err is an illegal operator action
// rather than an internal failure, so the API layer can map it to a 409.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
