// internal/database/models.go
package database

import (
	"time"
)

// MonitorStatus is the reported state of a monitor.
type MonitorStatus string

const (
	StatusUnknown  MonitorStatus = "unknown"
	StatusUp       MonitorStatus = "up"
	StatusDown     MonitorStatus = "down"
	StatusDegraded MonitorStatus = "degraded"
)

// MonitorKind distinguishes actively probed monitors from passive ones that
// receive their state through the webhook push endpoint.
type MonitorKind string

const (
	MonitorHTTP    MonitorKind = "http"
	MonitorWebhook MonitorKind = "webhook"
)

type Monitor struct {
	ID                    string            `json:"id"`
	TeamID                string            `json:"team_id"`
	Name                  string            `json:"name"`
	URL                   string            `json:"url"`
	Method                string            `json:"method"`
	RequestBody           string            `json:"request_body,omitempty"`
	Headers               map[string]string `json:"headers,omitempty"`
	ExpectedStatus        int               `json:"expected_status"`
	Interval              int               `json:"interval_seconds"`
	Timeout               int               `json:"timeout_seconds"`
	ConfirmationThreshold int               `json:"confirmation_threshold"`
	RecoveryWindow        int               `json:"recovery_window_seconds"`
	FollowRedirects       bool              `json:"follow_redirects"`
	Kind                  MonitorKind       `json:"kind"`
	Active                bool              `json:"active"`
	AlertsEnabled         bool              `json:"alerts_enabled"`
	Status                MonitorStatus     `json:"status"`
	FailureCount          int               `json:"failure_count"`
	LastCheck             time.Time         `json:"last_check"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func (m *Monitor) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}

func (m *Monitor) TimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

func (m *Monitor) RecoveryWindowDuration() time.Duration {
	return time.Duration(m.RecoveryWindow) * time.Second
}

// FailureKind classifies why a check did not succeed.
type FailureKind string

const (
	FailureTimeout          FailureKind = "timeout"
	FailureConnRefused      FailureKind = "connection_refused"
	FailureDNS              FailureKind = "dns_failure"
	FailureTLS              FailureKind = "tls_error"
	FailureUnexpectedStatus FailureKind = "unexpected_status"
	FailureOther            FailureKind = "other"
)

// CheckResult is the raw outcome of a single probe or webhook push.
type CheckResult struct {
	ID         string        `json:"id"`
	MonitorID  string        `json:"monitor_id"`
	Timestamp  time.Time     `json:"timestamp"`
	Success    bool          `json:"success"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Latency    time.Duration `json:"latency"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

type IncidentStatus string

const (
	IncidentOngoing      IncidentStatus = "ongoing"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

type Incident struct {
	ID             string           `json:"id"`
	MonitorID      string           `json:"monitor_id"`
	Status         IncidentStatus   `json:"status"`
	StartedAt      time.Time        `json:"started_at"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string           `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	Cause          string           `json:"cause"`
	Updates        []IncidentUpdate `json:"updates"`
}

type IncidentUpdate struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Status    IncidentStatus `json:"status"`
	Message   string         `json:"message"`
}

// EscalationPolicy is an ordered list of timed steps owned by a team. Each
// step delay is relative to incident start, not to the previous step.
type EscalationPolicy struct {
	ID     string           `json:"id"`
	TeamID string           `json:"team_id"`
	Steps  []EscalationStep `json:"steps"`
}

type EscalationStep struct {
	DelaySeconds int      `json:"delay_seconds"`
	ChannelIDs   []string `json:"channel_ids"`
}

type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelWebhook  ChannelType = "webhook"
	ChannelSlack    ChannelType = "slack"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelTelegram ChannelType = "telegram"
)

type AlertChannel struct {
	ID      string            `json:"id"`
	TeamID  string            `json:"team_id"`
	Type    ChannelType       `json:"type"`
	Config  map[string]string `json:"config"`
	Default bool              `json:"default"`
	Active  bool              `json:"active"`
}

type MonitorFilters struct {
	TeamID string
	Active *bool
}

type IncidentFilters struct {
	MonitorID string
	Status    IncidentStatus
	Limit     int
}
