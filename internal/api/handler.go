package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gpuhot/gpuhot/internal/alerts"
	"github.com/gpuhot/gpuhot/internal/fleet"
)

// maxBodySize bounds settings and test-request bodies.
const maxBodySize = 1 << 20

// Config wires a Handler to the rest of the process. Snapshot serves the
// current telemetry payload for any mode; Records is set in hub mode only.
type Config struct {
	Mode     string
	NodeName string
	Snapshot func() (any, error)
	Records  func() []fleet.NodeRecord
	Alerts   *alerts.Manager
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	cfg     Config
	started time.Time
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(cfg Config) http.Handler {
	h := &Handler{cfg: cfg, started: time.Now(), mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/nodes", h.nodes)
	h.mux.HandleFunc("/api/v1/alerts/settings", h.alertSettings)
	h.mux.HandleFunc("/api/v1/alerts/test", h.alertTest)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — liveness plus the process identity.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Mode:          h.cfg.Mode,
		NodeName:      h.cfg.NodeName,
		UptimeSeconds: time.Since(h.started).Seconds(),
	})
}

// snapshot returns GET /api/v1/snapshot — the current telemetry payload:
// a node snapshot in standalone/node mode, the merged cluster view on a hub.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	payload, err := h.cfg.Snapshot()
	if err != nil {
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, payload)
}

// nodes returns GET /api/v1/nodes — per-node connection state, hub mode only.
func (h *Handler) nodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.cfg.Records == nil {
		jsonErr(w, http.StatusNotFound, "not running in hub mode")
		return
	}

	records := h.cfg.Records()
	out := NodesResponse{Nodes: make([]NodeEntry, 0, len(records))}
	for _, rec := range records {
		e := NodeEntry{
			Name:       rec.Name,
			URL:        rec.URL,
			Status:     string(rec.Status),
			ErrorCount: rec.ErrorCount,
			LastError:  rec.LastError,
		}
		if !rec.LastSeen.IsZero() {
			e.LastSeen = rec.LastSeen.UTC().Format(time.RFC3339)
		}
		if rec.Snapshot != nil {
			e.GPUCount = len(rec.Snapshot.Devices)
		}
		out.Nodes = append(out.Nodes, e)
	}
	jsonResp(w, http.StatusOK, out)
}

// alertSettings serves GET (current settings) and PUT/POST (partial update)
// on /api/v1/alerts/settings.
func (h *Handler) alertSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, h.cfg.Alerts.Settings())

	case http.MethodPut, http.MethodPost:
		var u alerts.Update
		if err := decodeBody(r, &u); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
			return
		}

		s, err := h.cfg.Alerts.UpdateSettings(&u)
		switch {
		case errors.Is(err, alerts.ErrInvalidSettings):
			jsonErr(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, alerts.ErrPersistSettings):
			// The update applied in memory; tell the caller it is not durable.
			jsonResp(w, http.StatusInternalServerError, persistErrorResponse{
				Error:    "settings applied but not persisted",
				Applied:  true,
				Settings: h.cfg.Alerts.Settings(),
			})
		case err != nil:
			jsonErr(w, http.StatusInternalServerError, err.Error())
		default:
			jsonResp(w, http.StatusOK, s)
		}

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// alertTest serves POST /api/v1/alerts/test — fires a synthetic notification
// through every configured channel.
func (h *Handler) alertTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The body is optional; judge by what was actually read, not by
	// Content-Length, which chunked requests report as -1.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read test payload: "+err.Error())
		return
	}
	var req TestRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid test payload: "+err.Error())
			return
		}
	}

	if err := h.cfg.Alerts.SendTest(req.Message); err != nil {
		if errors.Is(err, alerts.ErrNoChannels) {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "sent"})
}

// --- helpers ----------------------------------------------------------------

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
