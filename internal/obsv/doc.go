// Package obsv exposes gpuhot's own operational metrics in Prometheus
// exposition format at /metrics: fleet counts, subscriber counts, broadcast
// and alert dispatch counters. These describe the monitor itself, not the
// GPUs it watches.
package obsv
