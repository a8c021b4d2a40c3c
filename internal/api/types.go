package api

import "github.com/gpuhot/gpuhot/internal/alerts"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Mode          string  `json:"mode"`
	NodeName      string  `json:"node_name"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NodeEntry is one node in GET /api/v1/nodes.
type NodeEntry struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	LastSeen   string `json:"last_seen,omitempty"` // RFC3339
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
	GPUCount   int    `json:"gpu_count"`
}

// NodesResponse is the payload for GET /api/v1/nodes.
type NodesResponse struct {
	Nodes []NodeEntry `json:"nodes"`
}

// TestRequest is the optional body for POST /api/v1/alerts/test.
type TestRequest struct {
	Message string `json:"message"`
}

// persistErrorResponse reports a settings update that applied in memory but
// could not be written to durable storage.
type persistErrorResponse struct {
	Error    string          `json:"error"`
	Applied  bool            `json:"applied"`
	Settings alerts.Settings `json:"settings"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
