// Package ws implements the telemetry broadcaster. Hub manages a set of
// WebSocket subscribers and pushes the current view to all of them on a
// fixed cadence — 500ms on the single-node fast path, 1s for hub
// aggregation, which is already re-deriving from cached state.
//
// Message format sent to clients:
//
//	{
//	  "event": "gpu_data",
//	  "data":  { /* NodeSnapshot or ClusterView */ }
//	}
//
// The loop starts when the first subscriber connects and runs for the
// process lifetime. The upgrader accepts all origins; apply CORS
// restrictions at the reverse-proxy level. Mounted at /ws/stream.
package ws
