// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vigil/internal/database"
)

// Prometheus metrics
var (
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_check_duration_seconds",
			Help:    "Time spent executing checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"monitor", "result"},
	)

	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_checks_total",
			Help: "Total number of checks executed",
		},
		[]string{"monitor", "result"},
	)

	MonitorStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_monitor_status",
			Help: "Current status of monitors (0=up, 1=degraded, 2=down, 3=unknown)",
		},
		[]string{"monitor"},
	)

	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_active_monitors_total",
			Help: "Number of active monitors being scheduled",
		},
	)

	OpenIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_open_incidents_total",
			Help: "Number of incidents in ongoing or acknowledged state",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_total",
			Help: "Notification deliveries attempted, by channel type and outcome",
		},
		[]string{"channel_type", "kind", "outcome"},
	)

	EscalationsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_escalation_steps_fired_total",
			Help: "Escalation steps that fired against an unacknowledged incident",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordCheckResult(monitor string, result *database.CheckResult, duration time.Duration) {
	label := resultLabel(result)
	CheckDuration.WithLabelValues(monitor, label).Observe(duration.Seconds())
	CheckTotal.WithLabelValues(monitor, label).Inc()
}

func (c *Collector) UpdateMonitorStatus(monitor string, status database.MonitorStatus) {
	MonitorStatus.WithLabelValues(monitor).Set(statusValue(status))
}

func (c *Collector) RecordNotification(channelType database.ChannelType, kind, outcome string) {
	NotificationsTotal.WithLabelValues(string(channelType), kind, outcome).Inc()
}

func (c *Collector) RecordEscalationFired() {
	EscalationsFired.Inc()
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	active := true
	monitors, err := c.store.GetMonitors(ctx, database.MonitorFilters{Active: &active})
	if err != nil {
		return err
	}
	ActiveMonitors.Set(float64(len(monitors)))

	open := 0
	for _, status := range []database.IncidentStatus{database.IncidentOngoing, database.IncidentAcknowledged} {
		incidents, err := c.store.GetIncidents(ctx, database.IncidentFilters{Status: status})
		if err != nil {
			return err
		}
		open += len(incidents)
	}
	OpenIncidents.Set(float64(open))

	return nil
}

func resultLabel(result *database.CheckResult) string {
	if result.Success {
		return "success"
	}
	if result.Failure != "" {
		return string(result.Failure)
	}
	return string(database.FailureOther)
}

func statusValue(status database.MonitorStatus) float64 {
	switch status {
	case database.StatusUp:
		return 0
	case database.StatusDegraded:
		return 1
	case database.StatusDown:
		return 2
	default:
		return 3
	}
}
