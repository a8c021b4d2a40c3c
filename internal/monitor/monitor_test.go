package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gpuhot/gpuhot/internal/collector"
	"github.com/gpuhot/gpuhot/pkg/types"
)

type recordingEval struct {
	mu    sync.Mutex
	nodes []string
}

func (r *recordingEval) Evaluate(nodeName string, _ map[string]types.DeviceMetrics, _ []types.ProcessInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, nodeName)
}

func TestCollectReplacesSnapshotAndEvaluates(t *testing.T) {
	src := collector.Func(func(ctx context.Context) (*types.NodeSnapshot, error) {
		return &types.NodeSnapshot{
			Devices: map[string]types.DeviceMetrics{"0": {"temperature": 61.0}},
		}, nil
	})
	eval := &recordingEval{}
	m := New(src, "box-1", "standalone", time.Second, eval)

	m.collect(context.Background())

	snap := m.Snapshot()
	if snap.NodeName != "box-1" || snap.Mode != "standalone" {
		t.Errorf("identity not stamped: %+v", snap)
	}
	if snap.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
	if len(eval.nodes) != 1 || eval.nodes[0] != "box-1" {
		t.Errorf("evaluator calls = %v", eval.nodes)
	}
}

func TestCollectFailureKeepsPreviousSnapshot(t *testing.T) {
	calls := 0
	src := collector.Func(func(ctx context.Context) (*types.NodeSnapshot, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("nvml went away")
		}
		return &types.NodeSnapshot{
			Devices: map[string]types.DeviceMetrics{"0": {"temperature": 55.0}},
		}, nil
	})
	m := New(src, "box-1", "node", time.Second, nil)

	m.collect(context.Background())
	good := m.Snapshot()

	m.collect(context.Background())
	if m.Snapshot() != good {
		t.Error("failed collection must keep the previous snapshot")
	}
}

func TestSnapshotNeverNil(t *testing.T) {
	m := New(collector.Empty("box-1"), "box-1", "standalone", time.Second, nil)
	snap := m.Snapshot()
	if snap == nil || snap.Devices == nil || snap.Processes == nil {
		t.Fatalf("initial snapshot must be usable: %+v", snap)
	}
}
