// Package types defines the shared payload shapes exchanged between nodes,
// the hub, and dashboard clients. These are the canonical in-memory
// representations of GPU telemetry, independent of any transport framing.
package types
