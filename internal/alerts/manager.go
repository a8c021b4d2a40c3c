package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gpuhot/gpuhot/internal/obsv"
	"github.com/gpuhot/gpuhot/pkg/types"
)

// stateKey identifies one hysteresis state machine instance.
type stateKey struct {
	Node   string
	Device string
	Rule   string
}

type alertState struct {
	active   bool
	lastSent time.Time
}

// ManagerConfig assembles a Manager from startup defaults.
type ManagerConfig struct {
	Enabled    bool
	Cooldown   time.Duration
	ResetDelta *float64
	Rules      []*Rule
	Channels   []ChannelConfig
	Store      SettingsStore // nil: settings are never persisted
	NodeName   string        // used in test notifications
	Metrics    *obsv.Metrics
}

// Manager evaluates device metrics against the rule set and dispatches
// notifications. It owns one state machine per (node, device, rule) key;
// state lives only in memory and is cleared whenever the rule configuration
// changes so new thresholds apply immediately.
//
// Manager is safe for concurrent use: evaluation cycles and settings
// mutations are serialized on one lock.
type Manager struct {
	nodeName string
	store    SettingsStore
	disp     dispatcher
	metrics  *obsv.Metrics
	now      func() time.Time // injectable for deterministic tests

	mu          sync.Mutex
	enabled     bool
	cooldown    time.Duration
	resetDelta  *float64
	rules       []*Rule
	channelCfgs []ChannelConfig
	channels    []Channel
	state       map[stateKey]*alertState
	defaults    Document
}

// NewManager builds a Manager from cfg, then loads persisted settings once
// and applies them. Invalid persisted content is logged and ignored —
// startup never fails on a bad settings document.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	cfgs, err := normalizeChannels(cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("alerts: initial channels: %w", err)
	}

	m := &Manager{
		nodeName:    cfg.NodeName,
		store:       cfg.Store,
		disp:        NewDispatcher(cfg.Metrics),
		metrics:     cfg.Metrics,
		now:         time.Now,
		enabled:     cfg.Enabled,
		cooldown:    cfg.Cooldown,
		resetDelta:  cfg.ResetDelta,
		rules:       cfg.Rules,
		channelCfgs: cfgs,
		channels:    buildChannels(cfgs),
		state:       make(map[stateKey]*alertState),
	}
	m.defaults = m.storageLocked()

	m.loadPersisted()

	if m.enabled && len(m.channels) == 0 {
		slog.Warn("alerts: notifications enabled but no channels configured")
	}
	return m, nil
}

func (m *Manager) loadPersisted() {
	if m.store == nil {
		return
	}
	stored, err := m.store.Load()
	if err != nil {
		slog.Warn("alerts: failed to load persisted settings — using defaults", "err", err)
		return
	}
	if stored == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyLocked(stored, false); err != nil {
		slog.Warn("alerts: ignoring invalid persisted settings", "err", err)
		return
	}
	slog.Info("alerts: loaded persisted settings")
}

// Active reports whether evaluation does anything at all: notifications
// enabled, at least one channel, and at least one rule with a threshold.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() bool {
	if !m.enabled || len(m.channels) == 0 {
		return false
	}
	for _, r := range m.rules {
		if r.Enabled() {
			return true
		}
	}
	return false
}

// Evaluate runs one evaluation cycle over a node's devices. All rules
// triggered or recovered for the same device in one cycle are batched into a
// single outbound message per event kind.
func (m *Manager) Evaluate(nodeName string, devices map[string]types.DeviceMetrics, processes []types.ProcessInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.activeLocked() {
		return
	}

	now := m.now()
	iso := now.UTC().Format(time.RFC3339)

	for deviceID, metrics := range devices {
		var triggered, recovered []ruleValue

		for _, rule := range m.rules {
			if !rule.Enabled() {
				continue
			}

			value, hasValue := rule.Extract(metrics)
			key := stateKey{nodeName, deviceID, rule.Name}
			st, ok := m.state[key]
			if !ok {
				st = &alertState{}
				m.state[key] = st
			}

			over := hasValue && value >= rule.Threshold
			resetDelta := rule.ResetDelta
			if resetDelta == nil {
				resetDelta = m.resetDelta
			}

			if over {
				if !st.active || now.Sub(st.lastSent) >= m.cooldown {
					triggered = append(triggered, ruleValue{rule: rule, value: value, has: true})
					st.active = true
					st.lastSent = now
				}
				continue
			}

			wasActive := st.active
			st.active = false
			if !wasActive {
				continue
			}

			// Recovery is confirmed when the value disappeared, no hysteresis
			// band is configured, or the value fell below threshold - delta.
			confirmed := !hasValue || resetDelta == nil || value <= rule.Threshold-*resetDelta
			if !confirmed {
				continue
			}

			// Suppress the recovery notice while the trigger cooldown is
			// still running so a just-fired alert isn't immediately followed
			// by a noisy recovery message. Internal state recovers regardless.
			if m.cooldown <= 0 || now.Sub(st.lastSent) >= m.cooldown {
				recovered = append(recovered, ruleValue{rule: rule, value: value, has: hasValue})
			}
		}

		if len(triggered) > 0 {
			message, embed := buildAlertMessage(nodeName, deviceID, metrics, triggered, processes, now)
			slog.Info("alerts: dispatching alert",
				"node", nodeName, "device", deviceID, "rules", len(triggered), "channels", len(m.channels))
			m.metrics.IncAlertsFired()
			m.disp.Dispatch(m.channels, message, MessageContext{
				Event:     "alert",
				NodeName:  nodeName,
				DeviceID:  deviceID,
				Timestamp: iso,
				Embed:     embed,
			})
		}

		if len(recovered) > 0 {
			message, embed := buildRecoveryMessage(nodeName, deviceID, metrics, recovered, now)
			slog.Info("alerts: dispatching recovery notice",
				"node", nodeName, "device", deviceID, "rules", len(recovered), "channels", len(m.channels))
			m.metrics.IncAlertsRecovered()
			m.disp.Dispatch(m.channels, message, MessageContext{
				Event:     "recovery",
				NodeName:  nodeName,
				DeviceID:  deviceID,
				Timestamp: iso,
				Embed:     embed,
			})
		}
	}
}

// Settings returns the current settings snapshot for the API.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// UpdateSettings validates and applies a partial settings payload, persists
// the result, and returns the new snapshot. Validation failures reject the
// whole payload with no state change. A persistence failure is returned
// wrapped in ErrPersistSettings; the in-memory change is kept.
func (m *Manager) UpdateSettings(u *Update) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyLocked(u, true); err != nil {
		return Settings{}, err
	}
	return m.snapshotLocked(), nil
}

// ApplyExternal applies a settings document that already lives in the store
// (e.g. edited on disk and picked up by the watcher) without re-persisting.
func (m *Manager) ApplyExternal(u *Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(u, false)
}

// StorageSnapshot returns the settings in their persisted form.
func (m *Manager) StorageSnapshot() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storageLocked()
}

// SendTest sends a synthetic message through all configured channels,
// bypassing rule evaluation. Errors when zero channels are configured so the
// caller gets an explicit failure instead of a silent no-op.
func (m *Manager) SendTest(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.channels) == 0 {
		return ErrNoChannels
	}

	if message == "" {
		message = fmt.Sprintf(
			"GPU Hot test alert on %s\nThis is a test notification to confirm your alerting setup.",
			m.nodeName)
	}

	slog.Info("alerts: dispatching test notification", "channels", len(m.channels))
	m.disp.Dispatch(m.channels, message, MessageContext{
		Event:     "test",
		NodeName:  m.nodeName,
		DeviceID:  "test",
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Embed: Embed{
			Title:       "Test Alert",
			Description: fmt.Sprintf("Alerts are configured for %s.", m.nodeName),
			Color:       testEmbedColor,
			FooterText:  fmt.Sprintf("%s - GPU Monitoring", m.nodeName),
		},
	})
	return nil
}

// applyLocked validates the whole payload first, then applies it, so a
// validation failure leaves no partial mutation behind. Any successful apply
// clears all alert state.
func (m *Manager) applyLocked(u *Update, persist bool) error {
	if u == nil {
		return fmt.Errorf("%w: settings payload is required", ErrInvalidSettings)
	}

	// Phase 1: validate everything up front.
	if u.CooldownSeconds != nil && *u.CooldownSeconds < 0 {
		return fmt.Errorf("%w: cooldown_seconds must be greater than or equal to zero", ErrInvalidSettings)
	}
	if u.ResetDelta.Set && u.ResetDelta.Value != nil && *u.ResetDelta.Value < 0 {
		return fmt.Errorf("%w: reset_delta must be greater than or equal to zero", ErrInvalidSettings)
	}

	ruleByName := make(map[string]*Rule, len(m.rules))
	for _, r := range m.rules {
		ruleByName[r.Name] = r
	}
	for _, ru := range u.Rules {
		rule, known := ruleByName[ru.Name]
		if !known {
			// Unknown rules are ignored for forward-compatibility.
			continue
		}
		if ru.Threshold != nil && *ru.Threshold < 0 {
			return fmt.Errorf("%w: threshold for rule %q must be >= 0", ErrInvalidSettings, rule.Name)
		}
		if ru.ResetDelta.Set && ru.ResetDelta.Value != nil && *ru.ResetDelta.Value < 0 {
			return fmt.Errorf("%w: reset_delta for rule %q must be >= 0", ErrInvalidSettings, rule.Name)
		}
	}

	var normalized []ChannelConfig
	if u.Channels != nil {
		var err error
		normalized, err = normalizeChannels(*u.Channels)
		if err != nil {
			return err
		}
	}

	// Phase 2: apply.
	if u.Enabled != nil {
		m.enabled = *u.Enabled
	}
	if u.CooldownSeconds != nil {
		m.cooldown = time.Duration(*u.CooldownSeconds * float64(time.Second))
	}
	if u.ResetDelta.Set {
		m.resetDelta = u.ResetDelta.Value
	}
	for _, ru := range u.Rules {
		rule, known := ruleByName[ru.Name]
		if !known {
			continue
		}
		if ru.Threshold != nil {
			rule.Threshold = *ru.Threshold
		}
		if ru.ResetDelta.Set {
			rule.ResetDelta = ru.ResetDelta.Value
		}
	}
	if u.Channels != nil {
		m.channelCfgs = normalized
		m.channels = buildChannels(normalized)
		if m.enabled && len(m.channels) == 0 {
			slog.Warn("alerts: notifications enabled but no channels configured")
		}
	}

	// Reset all hysteresis state so new thresholds apply immediately.
	m.state = make(map[stateKey]*alertState)

	if persist {
		slog.Info("alerts: settings updated",
			"enabled", m.enabled,
			"cooldown", m.cooldown,
			"channels", len(m.channelCfgs),
		)
		if m.store != nil {
			if err := m.store.Save(m.storageLocked()); err != nil {
				slog.Error("alerts: failed to persist settings", "err", err)
				return fmt.Errorf("%w: %v", ErrPersistSettings, err)
			}
		}
	}
	return nil
}

func (m *Manager) storageLocked() Document {
	doc := Document{
		Enabled:         m.enabled,
		CooldownSeconds: m.cooldown.Seconds(),
		ResetDelta:      copyFloat(m.resetDelta),
		Rules:           make([]StoredRule, 0, len(m.rules)),
		Channels:        append([]ChannelConfig(nil), m.channelCfgs...),
	}
	for _, r := range m.rules {
		doc.Rules = append(doc.Rules, StoredRule{
			Name:       r.Name,
			Threshold:  r.Threshold,
			ResetDelta: copyFloat(r.ResetDelta),
		})
	}
	return doc
}

func (m *Manager) snapshotLocked() Settings {
	s := Settings{
		Enabled:         m.enabled,
		CooldownSeconds: m.cooldown.Seconds(),
		ResetDelta:      copyFloat(m.resetDelta),
		Rules:           make([]RuleView, 0, len(m.rules)),
		Channels:        append([]ChannelConfig(nil), m.channelCfgs...),
		Configured:      len(m.channels) > 0,
		Active:          m.activeLocked(),
		Persisted:       m.store != nil,
		Defaults:        m.defaults,
	}
	for _, r := range m.rules {
		s.Rules = append(s.Rules, RuleView{
			Name:       r.Name,
			Label:      r.Label,
			Unit:       r.Unit,
			Threshold:  r.Threshold,
			ResetDelta: copyFloat(r.ResetDelta),
			IsEnabled:  r.Enabled(),
		})
	}
	s.AvailableChannelNames = make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		s.AvailableChannelNames = append(s.AvailableChannelNames, ch.Type())
	}
	return s
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
