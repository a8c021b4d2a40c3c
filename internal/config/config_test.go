package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Mode != ModeStandalone {
		t.Errorf("mode: got %q, want standalone", cfg.Mode)
	}
	if cfg.HTTPPort != DefaultHTTPPort {
		t.Errorf("http port: got %d, want %d", cfg.HTTPPort, DefaultHTTPPort)
	}
	if cfg.UpdateInterval != DefaultUpdateInterval {
		t.Errorf("update interval: got %v, want %v", cfg.UpdateInterval, DefaultUpdateInterval)
	}
	if cfg.OfflineCacheDuration != 5*time.Minute {
		t.Errorf("offline cache: got %v, want 5m", cfg.OfflineCacheDuration)
	}
	if cfg.Alerts.TemperatureThreshold != DefaultTemperatureThreshold {
		t.Errorf("temperature threshold: got %v", cfg.Alerts.TemperatureThreshold)
	}
	if cfg.Alerts.ResetDelta == nil || *cfg.Alerts.ResetDelta != DefaultAlertResetDelta {
		t.Errorf("reset delta: got %v", cfg.Alerts.ResetDelta)
	}
}

func TestFromEnv_HubWithNodeList(t *testing.T) {
	t.Setenv("GPUHOT_MODE", "hub")
	t.Setenv("GPUHOT_NODES", "http://node1:1312, http://node2:1312 ,")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Mode != ModeHub {
		t.Errorf("mode: got %q, want hub", cfg.Mode)
	}
	want := []string{"http://node1:1312", "http://node2:1312"}
	if len(cfg.NodeURLs) != len(want) {
		t.Fatalf("node urls: got %v, want %v", cfg.NodeURLs, want)
	}
	for i := range want {
		if cfg.NodeURLs[i] != want[i] {
			t.Errorf("node url[%d]: got %q, want %q", i, cfg.NodeURLs[i], want[i])
		}
	}
}

func TestFromEnv_NodesFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nodes.yaml")
	content := "nodes:\n  - http://gpu-01:1312\n  - http://gpu-02:1312\n"
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write nodes file: %v", err)
	}

	t.Setenv("GPUHOT_MODE", "hub")
	t.Setenv("GPUHOT_NODES_FILE", p)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.NodeURLs) != 2 || cfg.NodeURLs[0] != "http://gpu-01:1312" {
		t.Errorf("node urls: got %v", cfg.NodeURLs)
	}
}

func TestFromEnv_UnknownMode(t *testing.T) {
	t.Setenv("GPUHOT_MODE", "satellite")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for unknown mode, got nil")
	}
}

func TestFromEnv_UnknownTransport(t *testing.T) {
	t.Setenv("GPUHOT_NODE_TRANSPORT", "carrier-pigeon")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for unknown transport, got nil")
	}
}

func TestFromEnv_PortOutOfRange(t *testing.T) {
	t.Setenv("GPUHOT_HTTP_PORT", "70000")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for out-of-range port, got nil")
	}
}

func TestEnvDur_BareSeconds(t *testing.T) {
	t.Setenv("GPUHOT_ALERT_COOLDOWN", "45")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Alerts.Cooldown != 45*time.Second {
		t.Errorf("cooldown: got %v, want 45s", cfg.Alerts.Cooldown)
	}
}

func TestLoadNodesFile_Missing(t *testing.T) {
	if _, err := LoadNodesFile("/nonexistent/nodes.yaml"); err == nil {
		t.Fatal("expected error for missing nodes file, got nil")
	}
}
