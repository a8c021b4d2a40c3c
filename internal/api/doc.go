// Package api serves the JSON HTTP surface: health, the current telemetry
// snapshot, per-node connection state on a hub, and the alert settings and
// test endpoints.
package api
