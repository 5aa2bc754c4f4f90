// internal/monitoring/escalation.go - Timed escalation of unacknowledged incidents
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/notifications"
)

// Escalator runs the timed escalation sequence for open incidents. Each step
// of the team's policy fires its own timer, delayed from incident start.
// Incidents escalate independently and concurrently.
type Escalator struct {
	store      database.Store
	dispatcher *notifications.Dispatcher
	metrics    *metrics.Collector

	mu      sync.Mutex
	pending map[string][]*time.Timer // keyed by incident ID
}

func NewEscalator(store database.Store, dispatcher *notifications.Dispatcher, collector *metrics.Collector) *Escalator {
	return &Escalator{
		store:      store,
		dispatcher: dispatcher,
		metrics:    collector,
		pending:    make(map[string][]*time.Timer),
	}
}

// Begin schedules the policy steps for a freshly opened incident. A team
// without a policy, or a policy with zero steps, escalates nothing beyond the
// immediate notification the incident manager already sent.
func (es *Escalator) Begin(incident *database.Incident, monitor *database.Monitor) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	policy, err := es.store.GetPolicy(ctx, monitor.TeamID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logrus.WithError(err).WithField("team", monitor.TeamID).Error("Failed to load escalation policy")
		}
		return
	}
	if len(policy.Steps) == 0 {
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	monitorCopy := *monitor
	for _, step := range policy.Steps {
		step := step
		// Each delay is relative to incident start, not cumulative
		delay := time.Duration(step.DelaySeconds)*time.Second - time.Since(incident.StartedAt)
		if delay < 0 {
			delay = 0
		}
		timer := time.AfterFunc(delay, func() {
			es.fire(incident.ID, &monitorCopy, step)
		})
		es.pending[incident.ID] = append(es.pending[incident.ID], timer)
	}

	logrus.WithFields(logrus.Fields{
		"incident": incident.ID,
		"steps":    len(policy.Steps),
	}).Debug("Escalation timers scheduled")
}

// fire runs one escalation step. If the incident has been acknowledged or
// resolved in the meantime the fire is a no-op and the remaining steps are
// cancelled.
func (es *Escalator) fire(incidentID string, monitor *database.Monitor, step database.EscalationStep) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	incident, err := es.store.GetIncident(ctx, incidentID)
	if err != nil {
		logrus.WithError(err).WithField("incident", incidentID).Error("Escalation fire: failed to load incident")
		return
	}
	if incident.Status != database.IncidentOngoing {
		es.Cancel(incidentID)
		return
	}

	if es.metrics != nil {
		es.metrics.RecordEscalationFired()
	}

	logrus.WithFields(logrus.Fields{
		"incident": incidentID,
		"delay":    step.DelaySeconds,
		"channels": len(step.ChannelIDs),
	}).Info("Escalation step fired")

	for _, channelID := range step.ChannelIDs {
		channel, err := es.store.GetChannel(ctx, channelID)
		if err != nil {
			logrus.WithError(err).WithField("channel", channelID).Error("Escalation fire: failed to load channel")
			continue
		}
		if !channel.Active {
			continue
		}

		if err := es.dispatcher.Notify(ctx, incident, monitor, channel, notifications.KindEscalated); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"incident": incidentID,
				"channel":  channelID,
			}).Error("Escalation notification failed")
		}
	}
}

// Cancel stops all pending escalation timers for an incident.
func (es *Escalator) Cancel(incidentID string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	timers, exists := es.pending[incidentID]
	if !exists {
		return
	}
	for _, timer := range timers {
		timer.Stop()
	}
	delete(es.pending, incidentID)
}

// Stop cancels every pending escalation, used on shutdown.
func (es *Escalator) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	for incidentID, timers := range es.pending {
		for _, timer := range timers {
			timer.Stop()
		}
		delete(es.pending, incidentID)
	}
}
