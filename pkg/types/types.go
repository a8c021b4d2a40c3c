package types

import (
	"strconv"
	"time"
)

// NodeStatus is the connection state of one fleet node as seen by the hub.
type NodeStatus string

const (
	StatusOnline  NodeStatus = "online"
	StatusOffline NodeStatus = "offline"
	StatusError   NodeStatus = "error"
	StatusUnknown NodeStatus = "unknown"
)

// DeviceMetrics is the raw per-GPU metric map produced by a collector.
// Values are numeric or string; consumers read individual fields through
// the typed accessors and never assume a fixed schema.
type DeviceMetrics map[string]any

// Float returns the value for key coerced to float64.
// Numeric strings are parsed; anything else reports false.
func (m DeviceMetrics) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Str returns the value for key as a string, or "" if absent or non-string.
func (m DeviceMetrics) Str(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// DisplayName returns the device's model name, falling back to "GPU <id>".
func (m DeviceMetrics) DisplayName(id string) string {
	if name := m.Str("name"); name != "" {
		return name
	}
	return "GPU " + id
}

// UUID returns the device UUID, or "" when unset or the vendor placeholder.
func (m DeviceMetrics) UUID() string {
	u := m.Str("uuid")
	if u == "N/A" {
		return ""
	}
	return u
}

// ProcessInfo describes one process using a GPU on a node.
type ProcessInfo struct {
	PID     string  `json:"pid"`
	Name    string  `json:"name"`
	GPUUUID string  `json:"gpu_uuid,omitempty"`
	GPUID   string  `json:"gpu_id,omitempty"`
	Memory  float64 `json:"memory,omitempty"` // MiB
}

// SystemInfo is host-level context attached to every snapshot.
type SystemInfo struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Timestamp     string  `json:"timestamp,omitempty"` // RFC3339
}

// NodeSnapshot is one complete telemetry payload from a node.
// It is immutable once created; a node's state is replaced wholesale on
// every update, never patched field by field.
type NodeSnapshot struct {
	Mode       string                   `json:"mode,omitempty"` // set on broadcast: "standalone" | "node"
	NodeName   string                   `json:"node_name"`
	Devices    map[string]DeviceMetrics `json:"devices"`
	Processes  []ProcessInfo            `json:"processes"`
	System     SystemInfo               `json:"system"`
	ReceivedAt time.Time                `json:"received_at,omitempty"`
}

// NodeView is one node's entry in a merged cluster view.
type NodeView struct {
	Status     NodeStatus               `json:"status"`
	Cached     bool                     `json:"cached,omitempty"`
	Devices    map[string]DeviceMetrics `json:"devices"`
	Processes  []ProcessInfo            `json:"processes"`
	System     SystemInfo               `json:"system"`
	LastUpdate string                   `json:"last_update,omitempty"` // RFC3339
	Error      string                   `json:"error,omitempty"`
}

// ClusterStats summarizes a cluster view. The counts are always derived by
// iterating the merged node set, never tracked separately.
type ClusterStats struct {
	TotalNodes   int `json:"total_nodes"`
	OnlineNodes  int `json:"online_nodes"`
	OfflineNodes int `json:"offline_nodes"`
	TotalGPUs    int `json:"total_gpus"`
}

// ClusterView is the hub's aggregated picture of the whole fleet, rebuilt
// on demand from the per-node records.
type ClusterView struct {
	Mode         string              `json:"mode"` // "hub"
	Nodes        map[string]NodeView `json:"nodes"`
	ClusterStats ClusterStats        `json:"cluster_stats"`
}
