package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gpuhot/gpuhot/internal/collector"
	"github.com/gpuhot/gpuhot/pkg/types"
)

// Evaluator receives each collected snapshot. Implemented by alerts.Manager;
// nil disables alerting.
type Evaluator interface {
	Evaluate(nodeName string, devices map[string]types.DeviceMetrics, processes []types.ProcessInfo)
}

// Monitor runs the local collection loop: it polls the collector source on a
// fixed cadence and keeps the latest successful snapshot for the API and the
// WebSocket broadcaster. A failed collection keeps the previous snapshot and
// is logged; consumers keep seeing the last good data.
type Monitor struct {
	source   collector.Source
	nodeName string
	mode     string
	interval time.Duration
	eval     Evaluator
	now      func() time.Time

	mu   sync.Mutex
	snap *types.NodeSnapshot
}

// New creates a Monitor. mode is stamped onto every snapshot so consumers can
// tell a standalone payload from a fleet node's.
func New(source collector.Source, nodeName, mode string, interval time.Duration, eval Evaluator) *Monitor {
	return &Monitor{
		source:   source,
		nodeName: nodeName,
		mode:     mode,
		interval: interval,
		eval:     eval,
		now:      time.Now,
		snap: &types.NodeSnapshot{
			Mode:      mode,
			NodeName:  nodeName,
			Devices:   map[string]types.DeviceMetrics{},
			Processes: []types.ProcessInfo{},
		},
	}
}

// Run collects until ctx is cancelled. One collection happens immediately so
// the API has data before the first tick.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("monitor: collection loop started", "interval", m.interval)

	m.collect(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("monitor: collection loop stopped")
			return
		case <-t.C:
			m.collect(ctx)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	snap, err := m.source.Collect(cctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("monitor: collection failed, keeping previous snapshot", "err", err)
		}
		return
	}

	snap.Mode = m.mode
	if snap.NodeName == "" {
		snap.NodeName = m.nodeName
	}
	snap.ReceivedAt = m.now()
	if snap.Devices == nil {
		snap.Devices = map[string]types.DeviceMetrics{}
	}
	if snap.Processes == nil {
		snap.Processes = []types.ProcessInfo{}
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	if m.eval != nil {
		m.eval.Evaluate(snap.NodeName, snap.Devices, snap.Processes)
	}
}

// Snapshot returns the latest snapshot. Never nil.
func (m *Monitor) Snapshot() *types.NodeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Payload is a ws.ViewSource adapter returning the current snapshot.
func (m *Monitor) Payload() (any, error) {
	return m.Snapshot(), nil
}
