// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the narrow storage port the engine depends on.
type Store interface {
	// Monitor operations
	GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error)
	GetMonitor(ctx context.Context, id string) (*Monitor, error)
	SaveMonitor(ctx context.Context, monitor *Monitor) error
	DeleteMonitor(ctx context.Context, id string) error

	// Check result history
	AppendResult(ctx context.Context, result *CheckResult) error
	GetResultHistory(ctx context.Context, monitorID string, since time.Time) ([]CheckResult, error)
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Incident operations
	GetIncidents(ctx context.Context, filters IncidentFilters) ([]Incident, error)
	GetIncident(ctx context.Context, id string) (*Incident, error)
	GetOpenIncident(ctx context.Context, monitorID string) (*Incident, error)
	SaveIncident(ctx context.Context, incident *Incident) error

	// Escalation policies
	GetPolicy(ctx context.Context, teamID string) (*EscalationPolicy, error)
	SavePolicy(ctx context.Context, policy *EscalationPolicy) error

	// Alert channels
	GetChannel(ctx context.Context, id string) (*AlertChannel, error)
	GetChannels(ctx context.Context, teamID string) ([]AlertChannel, error)
	SaveChannel(ctx context.Context, channel *AlertChannel) error

	// Close the database connection
	Close() error
}
