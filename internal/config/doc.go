// Package config reads the gpuhot process configuration from GPUHOT_*
// environment variables, once at startup. The node list for hub mode can
// alternatively come from a YAML file (GPUHOT_NODES_FILE).
//
// Everything here is static for the process lifetime. Alerting thresholds,
// cooldown, and notification channels are only startup defaults: their
// runtime-mutable counterparts live in the alert settings document managed
// by the alerts package.
package config
