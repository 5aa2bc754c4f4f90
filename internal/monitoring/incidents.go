// internal/monitoring/incidents.go - Incident lifecycle state machine
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil/internal/database"
	"vigil/internal/notifications"
)

// ErrInvalidTransition is returned for operator actions that are not legal
// from the incident's current status.
var ErrInvalidTransition = errors.New("invalid incident state transition")

// IncidentManager owns the incident lifecycle. Writes from the evaluator path
// and operator actions are serialized per monitor, since an acknowledge can
// race with an auto-resolve.
type IncidentManager struct {
	store      database.Store
	dispatcher *notifications.Dispatcher
	escalator  *Escalator

	mu    sync.Mutex
	locks map[string]*sync.Mutex // keyed by monitor ID
}

func NewIncidentManager(store database.Store, dispatcher *notifications.Dispatcher, escalator *Escalator) *IncidentManager {
	return &IncidentManager{
		store:      store,
		dispatcher: dispatcher,
		escalator:  escalator,
		locks:      make(map[string]*sync.Mutex),
	}
}

// HandleTransition reacts to a status transition from the evaluator. It
// returns the incident that was opened or resolved, or nil when the
// transition required no incident change.
func (im *IncidentManager) HandleTransition(ctx context.Context, monitor *database.Monitor, transition *Transition) (*database.Incident, error) {
	lock := im.lockFor(monitor.ID)
	lock.Lock()
	defer lock.Unlock()

	switch transition.To {
	case database.StatusDown, database.StatusDegraded:
		return im.openIncident(ctx, monitor, transition)
	case database.StatusUp:
		return im.autoResolve(ctx, monitor, transition)
	default:
		return nil, nil
	}
}

func (im *IncidentManager) openIncident(ctx context.Context, monitor *database.Monitor, transition *Transition) (*database.Incident, error) {
	existing, err := im.store.GetOpenIncident(ctx, monitor.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	}
	if existing != nil {
		// At most one non-resolved incident per monitor; the existing one
		// continues through e.g. a down/degraded flip.
		return nil, nil
	}

	cause := causeFromResult(transition.Result)
	incident := &database.Incident{
		ID:        uuid.New().String(),
		MonitorID: monitor.ID,
		Status:    database.IncidentOngoing,
		StartedAt: transition.At,
		Cause:     cause,
		Updates: []database.IncidentUpdate{{
			ID:        uuid.New().String(),
			Timestamp: transition.At,
			Status:    database.IncidentOngoing,
			Message:   fmt.Sprintf("Monitor reported %s: %s", transition.To, cause),
		}},
	}

	if err := im.store.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"incident": incident.ID,
		"monitor":  monitor.Name,
		"cause":    cause,
	}).Warn("Incident opened")

	if monitor.AlertsEnabled {
		im.notifyDefaults(incident, monitor, notifications.KindOpened)
		im.escalator.Begin(incident, monitor)
	}

	return incident, nil
}

func (im *IncidentManager) autoResolve(ctx context.Context, monitor *database.Monitor, transition *Transition) (*database.Incident, error) {
	incident, err := im.store.GetOpenIncident(ctx, monitor.ID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	}

	resolvedAt := transition.At
	incident.Status = database.IncidentResolved
	incident.ResolvedAt = &resolvedAt
	incident.Updates = append(incident.Updates, database.IncidentUpdate{
		ID:        uuid.New().String(),
		Timestamp: resolvedAt,
		Status:    database.IncidentResolved,
		Message:   "Monitor recovered, incident auto-resolved",
	})

	if err := im.store.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	im.escalator.Cancel(incident.ID)

	logrus.WithFields(logrus.Fields{
		"incident": incident.ID,
		"monitor":  monitor.Name,
	}).Info("Incident auto-resolved")

	if monitor.AlertsEnabled {
		im.notifyDefaults(incident, monitor, notifications.KindResolved)
	}

	return incident, nil
}

// Acknowledge marks an ongoing incident as acknowledged by an operator and
// halts further escalation.
func (im *IncidentManager) Acknowledge(ctx context.Context, incidentID, by string) (*database.Incident, error) {
	incident, err := im.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	lock := im.lockFor(incident.MonitorID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: an auto-resolve may have raced us
	incident, err = im.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != database.IncidentOngoing {
		return nil, fmt.Errorf("%w: cannot acknowledge incident in status %s", ErrInvalidTransition, incident.Status)
	}

	now := time.Now()
	incident.Status = database.IncidentAcknowledged
	incident.AcknowledgedAt = &now
	incident.AcknowledgedBy = by
	incident.Updates = append(incident.Updates, database.IncidentUpdate{
		ID:        uuid.New().String(),
		Timestamp: now,
		Status:    database.IncidentAcknowledged,
		Message:   fmt.Sprintf("Acknowledged by %s", by),
	})

	if err := im.store.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	im.escalator.Cancel(incident.ID)

	logrus.WithFields(logrus.Fields{
		"incident": incident.ID,
		"by":       by,
	}).Info("Incident acknowledged")

	return incident, nil
}

// Resolve closes an incident from ongoing or acknowledged. Resolved is
// terminal; a later down transition opens a brand-new incident.
func (im *IncidentManager) Resolve(ctx context.Context, incidentID string) (*database.Incident, error) {
	incident, err := im.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	lock := im.lockFor(incident.MonitorID)
	lock.Lock()
	defer lock.Unlock()

	incident, err = im.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == database.IncidentResolved {
		return nil, fmt.Errorf("%w: incident is already resolved", ErrInvalidTransition)
	}

	now := time.Now()
	incident.Status = database.IncidentResolved
	incident.ResolvedAt = &now
	incident.Updates = append(incident.Updates, database.IncidentUpdate{
		ID:        uuid.New().String(),
		Timestamp: now,
		Status:    database.IncidentResolved,
		Message:   "Resolved by operator",
	})

	if err := im.store.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	im.escalator.Cancel(incident.ID)

	logrus.WithField("incident", incident.ID).Info("Incident resolved by operator")

	return incident, nil
}

// AddUpdate appends a free-text update without changing incident status.
func (im *IncidentManager) AddUpdate(ctx context.Context, incidentID, message string) (*database.Incident, error) {
	incident, err := im.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	lock := im.lockFor(incident.MonitorID)
	lock.Lock()
	defer lock.Unlock()

	incident, err = im.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status == database.IncidentResolved {
		return nil, fmt.Errorf("%w: cannot add update to a resolved incident", ErrInvalidTransition)
	}

	incident.Updates = append(incident.Updates, database.IncidentUpdate{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Status:    incident.Status,
		Message:   message,
	})

	if err := im.store.SaveIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	return incident, nil
}

// notifyDefaults dispatches to the team's default/immediate channels in the
// background. Notification is best-effort and never blocks the state machine.
func (im *IncidentManager) notifyDefaults(incident *database.Incident, monitor *database.Monitor, kind notifications.Kind) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		channels, err := im.store.GetChannels(ctx, monitor.TeamID)
		if err != nil {
			logrus.WithError(err).WithField("team", monitor.TeamID).Error("Failed to load channels for notification")
			return
		}

		for i := range channels {
			channel := channels[i]
			if !channel.Default || !channel.Active {
				continue
			}
			if err := im.dispatcher.Notify(ctx, incident, monitor, &channel, kind); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"incident": incident.ID,
					"channel":  channel.ID,
				}).Error("Failed to notify default channel")
			}
		}
	}()
}

func (im *IncidentManager) lockFor(monitorID string) *sync.Mutex {
	im.mu.Lock()
	defer im.mu.Unlock()

	lock, exists := im.locks[monitorID]
	if !exists {
		lock = &sync.Mutex{}
		im.locks[monitorID] = lock
	}
	return lock
}

func causeFromResult(result *database.CheckResult) string {
	if result == nil {
		return "unknown"
	}
	if result.Failure == database.FailureUnexpectedStatus && result.HTTPStatus != 0 {
		return fmt.Sprintf("HTTP %d", result.HTTPStatus)
	}
	if result.Detail != "" && result.Failure == database.FailureOther {
		return result.Detail
	}
	if result.Failure != "" {
		return string(result.Failure)
	}
	return "unknown"
}
