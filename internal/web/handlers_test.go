// internal/web/handlers_test.go
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/monitoring"
)

type apiFixture struct {
	store  database.Store
	engine *monitoring.Engine
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "vigil-test.db")

	store, err := database.NewBoltStore(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	collector := metrics.NewCollector(store)
	engine := monitoring.NewEngine(cfg, store, collector)
	webServer := NewServer(cfg, store, engine, collector)

	ts := httptest.NewServer(webServer.Handler())
	t.Cleanup(ts.Close)

	return &apiFixture{store: store, engine: engine, server: ts}
}

func (f *apiFixture) request(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMonitorLifecycleOverAPI(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/monitors", map[string]interface{}{
		"team_id":          "team-a",
		"name":             "api",
		"url":              "https://example.com/health",
		"interval_seconds": 30,
		"active":           true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := body["data"].(map[string]interface{})
	id := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "unknown", created["status"])

	resp, body = f.request(t, http.MethodGet, "/api/monitors/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api", body["data"].(map[string]interface{})["name"])

	resp, body = f.request(t, http.MethodPut, "/api/monitors/"+id, map[string]interface{}{
		"team_id":          "team-a",
		"name":             "api-v2",
		"url":              "https://example.com/health",
		"interval_seconds": 60,
		"active":           true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api-v2", body["data"].(map[string]interface{})["name"])

	resp, body = f.request(t, http.MethodGet, "/api/monitors", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = f.request(t, http.MethodDelete, "/api/monitors/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.request(t, http.MethodGet, "/api/monitors/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateMonitorValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.request(t, http.MethodPost, "/api/monitors", map[string]interface{}{
		"url": "https://example.com",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/api/monitors", map[string]interface{}{
		"name": "no-url",
		"kind": "http",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookPushAndIncidentFlow(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveMonitor(ctx, &database.Monitor{
		ID:     "mon-push",
		TeamID: "team-a",
		Name:   "batch-job",
		Kind:   database.MonitorWebhook,
		Active: true,
		Status: database.StatusUnknown,
	}))

	resp, _ := f.request(t, http.MethodPost, "/api/webhooks/mon-push", map[string]interface{}{
		"status": "up",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/api/webhooks/mon-push", map[string]interface{}{
		"status":  "down",
		"message": "runner offline",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := f.request(t, http.MethodGet, "/api/incidents?monitor_id=mon-push", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["count"])

	incidents := body["data"].([]interface{})
	incident := incidents[0].(map[string]interface{})
	incidentID := incident["id"].(string)
	assert.Equal(t, "ongoing", incident["status"])

	// Acknowledge, then resolve through the API
	resp, body = f.request(t, http.MethodPost, fmt.Sprintf("/api/incidents/%s/ack", incidentID), map[string]interface{}{
		"by": "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "acknowledged", body["data"].(map[string]interface{})["status"])

	// Acknowledging twice conflicts
	resp, _ = f.request(t, http.MethodPost, fmt.Sprintf("/api/incidents/%s/ack", incidentID), map[string]interface{}{
		"by": "bob",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.request(t, http.MethodPost, fmt.Sprintf("/api/incidents/%s/updates", incidentID), map[string]interface{}{
		"message": "restarting the runner",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.request(t, http.MethodPost, fmt.Sprintf("/api/incidents/%s/resolve", incidentID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", body["data"].(map[string]interface{})["status"])

	resp, _ = f.request(t, http.MethodPost, fmt.Sprintf("/api/incidents/%s/resolve", incidentID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebhookPushRejectsHTTPMonitor(t *testing.T) {
	f := newAPIFixture(t)

	require.NoError(t, f.store.SaveMonitor(context.Background(), &database.Monitor{
		ID: "mon-http", Name: "api", URL: "https://example.com",
		Kind: database.MonitorHTTP, Active: true,
	}))

	resp, _ := f.request(t, http.MethodPost, "/api/webhooks/mon-http", map[string]interface{}{
		"status": "down",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPost, "/api/webhooks/missing", map[string]interface{}{
		"status": "down",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMonitorHistoryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.store.SaveMonitor(ctx, &database.Monitor{ID: "mon-1", Name: "api"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.AppendResult(ctx, &database.CheckResult{
			ID:        fmt.Sprintf("r-%d", i),
			MonitorID: "mon-1",
			Timestamp: now.Add(time.Duration(-i) * time.Minute),
			Success:   true,
		}))
	}

	resp, body := f.request(t, http.MethodGet, "/api/monitors/mon-1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["count"])
}

func TestChannelAndPolicyEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/channels", map[string]interface{}{
		"team_id": "team-a",
		"type":    "slack",
		"config":  map[string]string{"webhookUrl": "https://hooks.example.com/x"},
		"default": true,
		"active":  true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	channelID := body["data"].(map[string]interface{})["id"].(string)

	resp, _ = f.request(t, http.MethodPost, "/api/channels", map[string]interface{}{
		"team_id": "team-a",
		"type":    "carrier_pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.request(t, http.MethodGet, "/api/channels?team_id=team-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = f.request(t, http.MethodGet, "/api/policies/team-a", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.request(t, http.MethodPut, "/api/policies/team-a", map[string]interface{}{
		"steps": []map[string]interface{}{
			{"delay_seconds": 300, "channel_ids": []string{channelID}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.request(t, http.MethodGet, "/api/policies/team-a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps := body["data"].(map[string]interface{})["steps"].([]interface{})
	assert.Len(t, steps, 1)

	// A policy step without channels is rejected
	resp, _ = f.request(t, http.MethodPut, "/api/policies/team-a", map[string]interface{}{
		"steps": []map[string]interface{}{
			{"delay_seconds": 300, "channel_ids": []string{}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
