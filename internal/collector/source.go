package collector

import (
	"context"

	"github.com/gpuhot/gpuhot/pkg/types"
)

// Source produces one complete telemetry snapshot per collection cycle.
// It is the boundary to the external metrics producer; the core never talks
// to GPU hardware directly.
type Source interface {
	Collect(ctx context.Context) (*types.NodeSnapshot, error)
}

// Func adapts a plain function to the Source interface.
type Func func(ctx context.Context) (*types.NodeSnapshot, error)

func (f Func) Collect(ctx context.Context) (*types.NodeSnapshot, error) {
	return f(ctx)
}

// Empty returns a Source that always reports zero devices for nodeName.
// Used when no collector endpoint is configured so the node still publishes
// its presence to the hub.
func Empty(nodeName string) Source {
	return Func(func(context.Context) (*types.NodeSnapshot, error) {
		return &types.NodeSnapshot{
			NodeName:  nodeName,
			Devices:   map[string]types.DeviceMetrics{},
			Processes: []types.ProcessInfo{},
		}, nil
	})
}
