// Package alerts evaluates GPU telemetry against configurable threshold
// rules and dispatches notifications through webhook and Telegram channels.
//
// Each (node, device, rule) triple owns an independent hysteresis state
// machine: an alert fires when the value crosses the threshold, and a
// recovery notice fires once the value falls back below threshold minus the
// reset delta. A cooldown bounds the notification rate while a condition
// persists. Settings can be updated at runtime through partial payloads and
// are persisted through a pluggable store.
package alerts
