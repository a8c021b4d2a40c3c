package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gpuhot/gpuhot/internal/ws"
	"github.com/gpuhot/gpuhot/pkg/types"
)

// ConnConfig tunes one node connection's retry and timeout behavior.
type ConnConfig struct {
	// PollTimeout bounds a single request/response snapshot fetch.
	PollTimeout time.Duration

	// RetryDelay is the fixed delay between poll attempts.
	RetryDelay time.Duration

	// PollMaxAttempts is how many consecutive poll failures are tolerated
	// before the connection gives up for the process lifetime. One-shot
	// polls must not retry forever and starve the scheduler.
	PollMaxAttempts int

	// StreamRetryDelay is the redial interval for streaming connections,
	// which retry unbounded: a streaming link must eventually recover.
	StreamRetryDelay time.Duration

	// StreamStaleTimeout marks a streaming node offline when no data
	// arrives within the window, even if the link stays open. Zero
	// disables the check and leaves connection closure as the only
	// disconnect signal.
	StreamStaleTimeout time.Duration
}

// Conn maintains the link to a single node and feeds its Aggregator record.
// Exactly one of RunPoll or RunStream is driven per node for the process
// lifetime; the aggregation logic is identical either way, only how the
// record refreshes differs.
type Conn struct {
	url string
	agg *Aggregator
	cfg ConnConfig

	httpc  *http.Client
	dialer *websocket.Dialer
}

// NewConn creates a connection for the node at url, reporting into agg.
func NewConn(url string, agg *Aggregator, cfg ConnConfig) *Conn {
	return &Conn{
		url:    strings.TrimRight(url, "/"),
		agg:    agg,
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.PollTimeout},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.PollTimeout},
	}
}

// RunPoll fetches the node's snapshot on a fixed cadence. Consecutive
// failures beyond PollMaxAttempts abandon the node with an error log; any
// success resets the failure budget. Blocks until ctx is cancelled.
func (c *Conn) RunPoll(ctx context.Context) {
	failures := 0
	for {
		if err := c.poll(ctx); err != nil {
			failures++
			slog.Warn("fleet: poll failed",
				"url", c.url,
				"attempt", failures,
				"max", c.cfg.PollMaxAttempts,
				"err", err,
			)
			if failures >= c.cfg.PollMaxAttempts {
				slog.Error("fleet: giving up on node after repeated poll failures",
					"url", c.url, "attempts", failures)
				return
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RetryDelay):
		}
	}
}

func (c *Conn) poll(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url+"/api/v1/snapshot", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.agg.MarkOffline(c.url, err)
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		c.agg.MarkError(c.url, err)
		return err
	}

	var snap types.NodeSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		err = fmt.Errorf("decode snapshot: %w", err)
		c.agg.MarkError(c.url, err)
		return err
	}

	c.agg.ApplySnapshot(c.url, &snap)
	return nil
}

// RunStream keeps a WebSocket open to the node's stream endpoint, applying
// each received snapshot in arrival order. The dial is retried unbounded at
// StreamRetryDelay for the process lifetime. Blocks until ctx is cancelled.
func (c *Conn) RunStream(ctx context.Context) {
	wsURL := streamURL(c.url)
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.agg.MarkOffline(c.url, err)
			slog.Warn("fleet: stream dial failed, will retry",
				"url", c.url, "retry_in", c.cfg.StreamRetryDelay, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.StreamRetryDelay):
				continue
			}
		}

		slog.Info("fleet: connected to node", "url", c.url)
		err = c.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.agg.MarkOffline(c.url, err)
		slog.Warn("fleet: stream closed, will reconnect",
			"url", c.url, "retry_in", c.cfg.StreamRetryDelay, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.StreamRetryDelay):
		}
	}
}

// readLoop consumes broadcast frames until the connection fails or goes
// stale. Returns the terminating error.
func (c *Conn) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.cfg.StreamStaleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.StreamStaleTimeout)) //nolint:errcheck
		}

		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if msg.Event != ws.EventTelemetry {
			continue
		}

		var snap types.NodeSnapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			c.agg.MarkError(c.url, fmt.Errorf("decode snapshot: %w", err))
			continue
		}
		c.agg.ApplySnapshot(c.url, &snap)
	}
}

// streamURL converts a node's HTTP base URL to its WebSocket stream endpoint.
func streamURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/stream"
}
