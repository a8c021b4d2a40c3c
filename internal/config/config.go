package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects which role the process plays.
type Mode string

const (
	// ModeStandalone monitors the local machine and serves its own dashboard.
	ModeStandalone Mode = "standalone"

	// ModeNode monitors the local machine and exposes its telemetry to a hub.
	ModeNode Mode = "node"

	// ModeHub aggregates telemetry from a fleet of nodes.
	ModeHub Mode = "hub"
)

// Transport selects how hub NodeConnections refresh their records.
type Transport string

const (
	// TransportStream keeps a persistent WebSocket open to each node.
	TransportStream Transport = "stream"

	// TransportPoll issues periodic request/response snapshot fetches.
	TransportPoll Transport = "poll"
)

// Default values. Intervals mirror the node's own update cadence: the
// standalone fast path refreshes sub-second, the hub re-derives from cached
// records and broadcasts once a second.
const (
	DefaultHTTPPort             = 1312
	DefaultUpdateInterval       = 500 * time.Millisecond
	DefaultBroadcastInterval    = time.Second
	DefaultPollTimeout          = 5 * time.Second
	DefaultRetryDelay           = 2 * time.Second
	DefaultPollMaxAttempts      = 5
	DefaultStreamRetryDelay     = 5 * time.Second
	DefaultStreamStaleTimeout   = 15 * time.Second
	DefaultOfflineCacheDuration = 5 * time.Minute

	DefaultAlertCooldown            = 5 * time.Minute
	DefaultTemperatureThreshold     = 85
	DefaultMemoryPercentThreshold   = 90
	DefaultUtilizationThreshold     = 0 // disabled
	DefaultPowerThreshold           = 0 // disabled
	DefaultAlertResetDelta          = 5
)

// AlertDefaults holds the startup thresholds and timing for the alert rules.
// A threshold of zero disables its rule until raised via the settings API.
type AlertDefaults struct {
	Enabled                bool
	TemperatureThreshold   float64
	MemoryPercentThreshold float64
	UtilizationThreshold   float64
	PowerThreshold         float64
	Cooldown               time.Duration
	ResetDelta             *float64
}

// Config is the full process configuration, read once at startup from the
// environment. It is not re-read; runtime-mutable alerting settings live in
// the alert settings document instead.
type Config struct {
	Mode     Mode
	NodeName string
	HTTPPort int

	// NodeURLs is the hub's static fleet, from GPUHOT_NODES or a YAML file.
	NodeURLs  []string
	Transport Transport

	UpdateInterval    time.Duration
	BroadcastInterval time.Duration

	PollTimeout          time.Duration
	RetryDelay           time.Duration
	PollMaxAttempts      int
	StreamRetryDelay     time.Duration
	StreamStaleTimeout   time.Duration // 0 disables the data-staleness check
	OfflineCacheDuration time.Duration

	// CollectorEndpoint is a DCGM-exporter style Prometheus endpoint the
	// node scrapes for per-device metrics. Empty means no local collector.
	CollectorEndpoint string

	Alerts            AlertDefaults
	SettingsPath      string
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string
}

// nodesFile is the YAML shape of GPUHOT_NODES_FILE.
type nodesFile struct {
	Nodes []string `yaml:"nodes"`
}

// FromEnv builds a Config from GPUHOT_* environment variables, filling
// defaults and validating structural constraints.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Mode:                 Mode(strings.ToLower(envStr("GPUHOT_MODE", string(ModeStandalone)))),
		NodeName:             envStr("GPUHOT_NODE_NAME", defaultNodeName()),
		HTTPPort:             envInt("GPUHOT_HTTP_PORT", DefaultHTTPPort),
		Transport:            Transport(strings.ToLower(envStr("GPUHOT_NODE_TRANSPORT", string(TransportStream)))),
		UpdateInterval:       envDur("GPUHOT_UPDATE_INTERVAL", DefaultUpdateInterval),
		BroadcastInterval:    envDur("GPUHOT_BROADCAST_INTERVAL", DefaultBroadcastInterval),
		PollTimeout:          envDur("GPUHOT_POLL_TIMEOUT", DefaultPollTimeout),
		RetryDelay:           envDur("GPUHOT_RETRY_DELAY", DefaultRetryDelay),
		PollMaxAttempts:      envInt("GPUHOT_POLL_MAX_ATTEMPTS", DefaultPollMaxAttempts),
		StreamRetryDelay:     envDur("GPUHOT_STREAM_RETRY_DELAY", DefaultStreamRetryDelay),
		StreamStaleTimeout:   envDur("GPUHOT_STREAM_STALE_TIMEOUT", DefaultStreamStaleTimeout),
		OfflineCacheDuration: envDur("GPUHOT_OFFLINE_CACHE", DefaultOfflineCacheDuration),
		CollectorEndpoint:    envStr("GPUHOT_COLLECTOR_ENDPOINT", ""),
		SettingsPath:         envStr("GPUHOT_ALERT_SETTINGS_FILE", ""),
		DiscordWebhookURL:    envStr("GPUHOT_DISCORD_WEBHOOK_URL", ""),
		TelegramBotToken:     envStr("GPUHOT_TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       envStr("GPUHOT_TELEGRAM_CHAT_ID", ""),
		Alerts: AlertDefaults{
			Enabled:                envBool("GPUHOT_ALERTS_ENABLED", true),
			TemperatureThreshold:   envFloat("GPUHOT_ALERT_TEMPERATURE_THRESHOLD", DefaultTemperatureThreshold),
			MemoryPercentThreshold: envFloat("GPUHOT_ALERT_MEMORY_PERCENT_THRESHOLD", DefaultMemoryPercentThreshold),
			UtilizationThreshold:   envFloat("GPUHOT_ALERT_UTILIZATION_THRESHOLD", DefaultUtilizationThreshold),
			PowerThreshold:         envFloat("GPUHOT_ALERT_POWER_THRESHOLD", DefaultPowerThreshold),
			Cooldown:               envDur("GPUHOT_ALERT_COOLDOWN", DefaultAlertCooldown),
		},
	}

	reset := envFloat("GPUHOT_ALERT_RESET_DELTA", DefaultAlertResetDelta)
	if reset >= 0 {
		cfg.Alerts.ResetDelta = &reset
	}

	if raw := envStr("GPUHOT_NODES", ""); raw != "" {
		cfg.NodeURLs = splitList(raw)
	} else if path := envStr("GPUHOT_NODES_FILE", ""); path != "" {
		urls, err := LoadNodesFile(path)
		if err != nil {
			return nil, err
		}
		cfg.NodeURLs = urls
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadNodesFile reads a YAML node list: `nodes: ["http://host:1312", ...]`.
func LoadNodesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read nodes file %q: %w", path, err)
	}
	var nf nodesFile
	if err := yaml.Unmarshal(data, &nf); err != nil {
		return nil, fmt.Errorf("config: parse nodes file %q: %w", path, err)
	}
	out := make([]string, 0, len(nf.Nodes))
	for _, u := range nf.Nodes {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

// validate checks structural constraints on the assembled configuration.
// A hub with zero nodes is deliberately not an error here: the process must
// start with a degraded fleet rather than crash (main logs it loudly).
func validate(cfg *Config) error {
	switch cfg.Mode {
	case ModeStandalone, ModeNode, ModeHub:
	default:
		return fmt.Errorf("mode %q unknown: want standalone|node|hub", cfg.Mode)
	}
	switch cfg.Transport {
	case TransportStream, TransportPoll:
	default:
		return fmt.Errorf("transport %q unknown: want stream|poll", cfg.Transport)
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("http port %d is out of range [1, 65535]", cfg.HTTPPort)
	}
	if cfg.UpdateInterval <= 0 {
		return fmt.Errorf("update interval must be positive")
	}
	if cfg.BroadcastInterval <= 0 {
		return fmt.Errorf("broadcast interval must be positive")
	}
	if cfg.OfflineCacheDuration < 0 {
		return fmt.Errorf("offline cache duration must not be negative")
	}
	if cfg.Alerts.Cooldown < 0 {
		return fmt.Errorf("alert cooldown must not be negative")
	}
	return nil
}

func defaultNodeName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "gpuhot"
}

// --- env helpers ------------------------------------------------------------

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// envDur parses a Go duration ("500ms", "2s"). Bare numbers are seconds,
// matching how the thresholds are configured.
func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
