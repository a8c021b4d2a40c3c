package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gpuhot/gpuhot/internal/alerts"
	"github.com/gpuhot/gpuhot/internal/config"
	"github.com/gpuhot/gpuhot/internal/fleet"
	"github.com/gpuhot/gpuhot/pkg/types"
)

func testManager(t *testing.T, channels []alerts.ChannelConfig) *alerts.Manager {
	t.Helper()
	m, err := alerts.NewManager(alerts.ManagerConfig{
		Enabled:  true,
		Cooldown: 5 * time.Minute,
		Rules: alerts.DefaultRules(config.AlertDefaults{
			TemperatureThreshold:   85,
			MemoryPercentThreshold: 90,
		}),
		Channels: channels,
		NodeName: "api-test",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func newTestHandler(t *testing.T, cfg Config) http.Handler {
	t.Helper()
	if cfg.Mode == "" {
		cfg.Mode = "standalone"
	}
	if cfg.NodeName == "" {
		cfg.NodeName = "api-test"
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = func() (any, error) {
			return &types.NodeSnapshot{NodeName: "api-test"}, nil
		}
	}
	if cfg.Alerts == nil {
		cfg.Alerts = testManager(t, nil)
	}
	return New(cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v\nbody: %s", method, path, err, rr.Body.String())
		}
	}
	return rr
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, Config{Mode: "hub", NodeName: "hub-1"})

	var resp HealthResponse
	rr := doJSON(t, h, http.MethodGet, "/api/v1/health", "", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp.Status != "ok" || resp.Mode != "hub" || resp.NodeName != "hub-1" {
		t.Errorf("unexpected health payload: %+v", resp)
	}

	if rr := doJSON(t, h, http.MethodPost, "/api/v1/health", "", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST health status = %d, want 405", rr.Code)
	}
}

func TestSnapshot(t *testing.T) {
	h := newTestHandler(t, Config{
		Snapshot: func() (any, error) {
			return &types.NodeSnapshot{NodeName: "gpu-box", Devices: map[string]types.DeviceMetrics{
				"0": {"temperature": 55.0},
			}}, nil
		},
	})

	var snap types.NodeSnapshot
	rr := doJSON(t, h, http.MethodGet, "/api/v1/snapshot", "", &snap)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if snap.NodeName != "gpu-box" || len(snap.Devices) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestNodesOutsideHubMode(t *testing.T) {
	h := newTestHandler(t, Config{})
	if rr := doJSON(t, h, http.MethodGet, "/api/v1/nodes", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestNodes(t *testing.T) {
	seen := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	h := newTestHandler(t, Config{
		Mode: "hub",
		Records: func() []fleet.NodeRecord {
			return []fleet.NodeRecord{
				{
					Name:     "node-a",
					URL:      "http://node-a:1312",
					Status:   types.StatusOnline,
					LastSeen: seen,
					Snapshot: &types.NodeSnapshot{Devices: map[string]types.DeviceMetrics{"0": {}, "1": {}}},
				},
				{
					Name:       "http://node-b:1312",
					URL:        "http://node-b:1312",
					Status:     types.StatusOffline,
					ErrorCount: 3,
					LastError:  "connection refused",
				},
			}
		},
	})

	var resp NodesResponse
	rr := doJSON(t, h, http.MethodGet, "/api/v1/nodes", "", &resp)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(resp.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(resp.Nodes))
	}
	byName := map[string]NodeEntry{}
	for _, n := range resp.Nodes {
		byName[n.Name] = n
	}
	a := byName["node-a"]
	if a.Status != "online" || a.GPUCount != 2 || a.LastSeen != "2026-03-01T09:30:00Z" {
		t.Errorf("node-a entry wrong: %+v", a)
	}
	b := byName["http://node-b:1312"]
	if b.Status != "offline" || b.ErrorCount != 3 || b.LastError == "" {
		t.Errorf("node-b entry wrong: %+v", b)
	}
}

func TestAlertSettingsRoundTrip(t *testing.T) {
	h := newTestHandler(t, Config{})

	var before alerts.Settings
	if rr := doJSON(t, h, http.MethodGet, "/api/v1/alerts/settings", "", &before); rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rr.Code)
	}
	if !before.Enabled {
		t.Fatalf("expected enabled defaults, got %+v", before)
	}

	var after alerts.Settings
	rr := doJSON(t, h, http.MethodPut, "/api/v1/alerts/settings",
		`{"cooldown_seconds": 120, "rules": [{"name": "temperature", "threshold": 70}]}`, &after)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rr.Code, rr.Body.String())
	}
	if after.CooldownSeconds != 120 {
		t.Errorf("cooldown = %v, want 120", after.CooldownSeconds)
	}
	for _, r := range after.Rules {
		if r.Name == "temperature" && r.Threshold != 70 {
			t.Errorf("threshold = %v, want 70", r.Threshold)
		}
	}
}

func TestAlertSettingsRejectsInvalidPayload(t *testing.T) {
	h := newTestHandler(t, Config{})

	rr := doJSON(t, h, http.MethodPut, "/api/v1/alerts/settings", `{"cooldown_seconds": -5}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPut, "/api/v1/alerts/settings", `{not json`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rr.Code)
	}
}

func TestAlertTest(t *testing.T) {
	withChannel := newTestHandler(t, Config{
		Alerts: testManager(t, []alerts.ChannelConfig{
			{Type: alerts.ChannelWebhook, Enabled: true, WebhookURL: "http://example.invalid/hook"},
		}),
	})
	if rr := doJSON(t, withChannel, http.MethodPost, "/api/v1/alerts/test", `{"message":"ping"}`, nil); rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	noChannels := newTestHandler(t, Config{})
	if rr := doJSON(t, noChannels, http.MethodPost, "/api/v1/alerts/test", "", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without channels", rr.Code)
	}
}

func TestAlertTestEmptyChunkedBody(t *testing.T) {
	h := newTestHandler(t, Config{
		Alerts: testManager(t, []alerts.ChannelConfig{
			{Type: alerts.ChannelWebhook, Enabled: true, WebhookURL: "http://example.invalid/hook"},
		}),
	})

	// Chunked transfer: no Content-Length, but the body is still empty and
	// the default test message should be used.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/test", strings.NewReader(""))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for an empty chunked body: %s", rr.Code, rr.Body.String())
	}
}
