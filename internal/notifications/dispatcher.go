// internal/notifications/dispatcher.go - Channel fan-out with retry/backoff
package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
)

// Kind distinguishes why a notification is being sent.
type Kind string

const (
	KindOpened    Kind = "opened"
	KindEscalated Kind = "escalated"
	KindResolved  Kind = "resolved"
)

// Payload is the normalized message handed to every channel adapter.
type Payload struct {
	Kind        Kind
	MonitorName string
	MonitorURL  string
	IncidentID  string
	Status      database.IncidentStatus
	Cause       string
	StartedAt   time.Time
	ResolvedAt  *time.Time
}

// Subject returns a one-line summary suitable for titles and chat messages.
func (p *Payload) Subject() string {
	switch p.Kind {
	case KindResolved:
		return fmt.Sprintf("RESOLVED: %s is back up", p.MonitorName)
	case KindEscalated:
		return fmt.Sprintf("ESCALATION: %s is still down (%s)", p.MonitorName, p.Cause)
	default:
		return fmt.Sprintf("DOWN: %s (%s)", p.MonitorName, p.Cause)
	}
}

// Body returns a multi-line human-readable message.
func (p *Payload) Body() string {
	body := fmt.Sprintf("%s\nMonitor: %s\nURL: %s\nIncident: %s\nStatus: %s\nStarted: %s",
		p.Subject(), p.MonitorName, p.MonitorURL, p.IncidentID, p.Status,
		p.StartedAt.Format(time.RFC3339))
	if p.ResolvedAt != nil {
		body += "\nResolved: " + p.ResolvedAt.Format(time.RFC3339)
	}
	return body
}

// ConfigError marks a permanent channel-configuration problem. It is reported
// once and never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "channel configuration error: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Adapter delivers one payload over one channel type.
type Adapter interface {
	Type() database.ChannelType
	Send(ctx context.Context, channel *database.AlertChannel, payload *Payload) error
}

// Dispatcher resolves the adapter for a channel and invokes it with retry and
// exponential backoff on transient failure. Delivery is best-effort: errors
// are returned for logging and metrics but never block incident processing.
type Dispatcher struct {
	cfg      config.NotificationsConfig
	metrics  *metrics.Collector
	adapters map[database.ChannelType]Adapter
}

func NewDispatcher(cfg config.NotificationsConfig, collector *metrics.Collector) *Dispatcher {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	d := &Dispatcher{
		cfg:      cfg,
		metrics:  collector,
		adapters: make(map[database.ChannelType]Adapter),
	}

	d.register(&webhookAdapter{client: httpClient})
	d.register(&slackAdapter{client: httpClient})
	d.register(&telegramAdapter{client: httpClient, apiBase: cfg.TelegramAPIBase, defaultToken: cfg.TelegramBotToken})
	d.register(&whatsappAdapter{client: httpClient, gatewayURL: cfg.WhatsAppGateway})
	d.register(&emailAdapter{smtp: cfg.SMTP})

	return d
}

func (d *Dispatcher) register(adapter Adapter) {
	d.adapters[adapter.Type()] = adapter
}

// Notify builds the payload for the incident and delivers it via the
// channel's adapter. Transient failures (network errors, 5xx from the
// channel's API) are retried up to the configured attempt count; config
// errors fail immediately.
func (d *Dispatcher) Notify(ctx context.Context, incident *database.Incident, monitor *database.Monitor, channel *database.AlertChannel, kind Kind) error {
	adapter, ok := d.adapters[channel.Type]
	if !ok {
		err := configErrorf("no adapter for channel type %q", channel.Type)
		d.report(channel, kind, "config_error", err)
		return err
	}

	payload := &Payload{
		Kind:        kind,
		MonitorName: monitor.Name,
		MonitorURL:  monitor.URL,
		IncidentID:  incident.ID,
		Status:      incident.Status,
		Cause:       incident.Cause,
		StartedAt:   incident.StartedAt,
		ResolvedAt:  incident.ResolvedAt,
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.Backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := adapter.Send(ctx, channel, payload)
		if err == nil {
			if d.metrics != nil {
				d.metrics.RecordNotification(channel.Type, string(kind), "sent")
			}
			logrus.WithFields(logrus.Fields{
				"channel": channel.ID,
				"type":    channel.Type,
				"kind":    kind,
				"monitor": monitor.Name,
			}).Debug("Notification delivered")
			return nil
		}
		lastErr = err

		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			d.report(channel, kind, "config_error", err)
			return err
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"channel": channel.ID,
			"type":    channel.Type,
			"attempt": attempt + 1,
		}).Warn("Notification delivery failed, will retry")
	}

	d.report(channel, kind, "failed", lastErr)
	return lastErr
}

func (d *Dispatcher) report(channel *database.AlertChannel, kind Kind, outcome string, err error) {
	if d.metrics != nil {
		d.metrics.RecordNotification(channel.Type, string(kind), outcome)
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"channel": channel.ID,
		"type":    channel.Type,
		"kind":    kind,
	}).Error("Notification delivery gave up")
}
