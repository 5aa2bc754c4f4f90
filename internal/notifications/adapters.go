// internal/notifications/adapters.go - Per-channel delivery adapters
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"vigil/internal/config"
	"vigil/internal/database"
)

// postJSON performs the shared HTTP delivery path. 5xx responses are
// transient and retryable; 4xx means the channel's endpoint rejected the
// configured request and retrying will not help.
func postJSON(ctx context.Context, client *http.Client, method, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return configErrorf("building request for %s: %v", target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vigil Uptime Monitor/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return configErrorf("endpoint rejected request with HTTP %d", resp.StatusCode)
	}
	return nil
}

func requireConfig(channel *database.AlertChannel, key string) (string, error) {
	value := channel.Config[key]
	if value == "" {
		return "", configErrorf("channel %s is missing required config %q", channel.ID, key)
	}
	return value, nil
}

// webhookAdapter posts the full normalized payload as JSON to a user URL.
type webhookAdapter struct {
	client *http.Client
}

func (a *webhookAdapter) Type() database.ChannelType { return database.ChannelWebhook }

func (a *webhookAdapter) Send(ctx context.Context, channel *database.AlertChannel, payload *Payload) error {
	target, err := requireConfig(channel, "url")
	if err != nil {
		return err
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return configErrorf("invalid webhook URL %q: %v", target, err)
	}

	method := channel.Config["method"]
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(map[string]interface{}{
		"kind":        payload.Kind,
		"monitor":     payload.MonitorName,
		"url":         payload.MonitorURL,
		"incident_id": payload.IncidentID,
		"status":      payload.Status,
		"cause":       payload.Cause,
		"started_at":  payload.StartedAt.Format(time.RFC3339),
		"resolved_at": formatOptionalTime(payload.ResolvedAt),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return postJSON(ctx, a.client, method, target, body)
}

// slackAdapter posts a text message to a Slack incoming-webhook URL.
type slackAdapter struct {
	client *http.Client
}

func (a *slackAdapter) Type() database.ChannelType { return database.ChannelSlack }

func (a *slackAdapter) Send(ctx context.Context, channel *database.AlertChannel, payload *Payload) error {
	target, err := requireConfig(channel, "webhookUrl")
	if err != nil {
		return err
	}

	message := map[string]string{
		"text": fmt.Sprintf("*%s*\n%s | <%s>", payload.Subject(), payload.MonitorName, payload.MonitorURL),
	}
	if channelName := channel.Config["channel"]; channelName != "" {
		message["channel"] = channelName
	}

	body, _ := json.Marshal(message)
	return postJSON(ctx, a.client, http.MethodPost, target, body)
}

// telegramAdapter delivers via the Telegram bot sendMessage API. Channels
// may carry their own bot token; otherwise the daemon-wide token applies.
type telegramAdapter struct {
	client       *http.Client
	apiBase      string
	defaultToken string
}

func (a *telegramAdapter) Type() database.ChannelType { return database.ChannelTelegram }

func (a *telegramAdapter) Send(ctx context.Context, channel *database.AlertChannel, payload *Payload) error {
	chatID, err := requireConfig(channel, "chatId")
	if err != nil {
		return err
	}
	token := channel.Config["botToken"]
	if token == "" {
		token = a.defaultToken
	}
	if token == "" {
		return configErrorf("channel %s has no bot token and no default is configured", channel.ID)
	}

	body, _ := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    payload.Body(),
	})

	target := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(a.apiBase, "/"), token)
	return postJSON(ctx, a.client, http.MethodPost, target, body)
}

// whatsappAdapter delivers through an operator-run WhatsApp gateway service.
type whatsappAdapter struct {
	client     *http.Client
	gatewayURL string
}

func (a *whatsappAdapter) Type() database.ChannelType { return database.ChannelWhatsApp }

func (a *whatsappAdapter) Send(ctx context.Context, channel *database.AlertChannel, payload *Payload) error {
	phone, err := requireConfig(channel, "phone")
	if err != nil {
		return err
	}
	if a.gatewayURL == "" {
		return configErrorf("whatsapp gateway is not configured")
	}

	body, _ := json.Marshal(map[string]string{
		"phone":   phone,
		"message": payload.Body(),
	})
	return postJSON(ctx, a.client, http.MethodPost, a.gatewayURL, body)
}

// emailAdapter delivers through the configured SMTP relay.
type emailAdapter struct {
	smtp config.SMTPConfig
}

func (a *emailAdapter) Type() database.ChannelType { return database.ChannelEmail }

func (a *emailAdapter) Send(ctx context.Context, channel *database.AlertChannel, payload *Payload) error {
	to, err := requireConfig(channel, "to")
	if err != nil {
		return err
	}
	if a.smtp.Host == "" {
		return configErrorf("smtp relay is not configured")
	}

	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		a.smtp.From, to, payload.Subject(), payload.Body())

	addr := fmt.Sprintf("%s:%d", a.smtp.Host, a.smtp.Port)
	var auth smtp.Auth
	if a.smtp.Username != "" {
		auth = smtp.PlainAuth("", a.smtp.Username, a.smtp.Password, a.smtp.Host)
	}

	if err := smtp.SendMail(addr, auth, a.smtp.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
