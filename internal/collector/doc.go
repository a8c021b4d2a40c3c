// Package collector defines the boundary to the external GPU metrics
// producer. The core only consumes an already-parsed per-device metrics map;
// Source is that contract, and DCGM is its one shipped implementation,
// scraping a DCGM-exporter Prometheus endpoint.
package collector
