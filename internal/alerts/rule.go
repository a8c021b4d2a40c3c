package alerts

import (
	"fmt"

	"github.com/gpuhot/gpuhot/internal/config"
	"github.com/gpuhot/gpuhot/pkg/types"
)

// Extractor pulls one metric value out of a device's metric map. The second
// return reports whether the value was present and usable.
type Extractor func(types.DeviceMetrics) (float64, bool)

// Rule is one declarative threshold definition. Name is the unique key and
// is fixed at construction; only the numeric fields mutate at runtime, via
// settings updates.
type Rule struct {
	Name       string
	Label      string
	Unit       string
	Threshold  float64
	ResetDelta *float64 // nil: fall back to the evaluator's global default
	Extract    Extractor
	Format     func(float64) string // optional custom value formatter
}

// Enabled reports whether the rule participates in evaluation.
func (r *Rule) Enabled() bool { return r.Threshold > 0 }

// FormatValue renders a value with the rule's unit, honoring a custom
// formatter when set.
func (r *Rule) FormatValue(v float64) string {
	if r.Format != nil {
		return r.Format(v)
	}
	if r.Unit != "" {
		return fmt.Sprintf("%.1f%s", v, r.Unit)
	}
	return fmt.Sprintf("%.1f", v)
}

// FormatThreshold renders the threshold with the rule's unit.
func (r *Rule) FormatThreshold() string {
	if r.Unit != "" {
		return fmt.Sprintf("%.1f%s", r.Threshold, r.Unit)
	}
	return fmt.Sprintf("%.1f", r.Threshold)
}

// DefaultRules builds the standard GPU rule set from startup defaults.
// Rules with a zero threshold are still created (disabled) so the settings
// API can enable them later by raising the threshold.
func DefaultRules(d config.AlertDefaults) []*Rule {
	return []*Rule{
		{
			Name:      "temperature",
			Label:     "Temperature",
			Unit:      "°C",
			Threshold: d.TemperatureThreshold,
			Extract: func(m types.DeviceMetrics) (float64, bool) {
				return m.Float("temperature")
			},
		},
		{
			Name:      "memory_percent",
			Label:     "Memory Usage",
			Unit:      "%",
			Threshold: d.MemoryPercentThreshold,
			Extract: func(m types.DeviceMetrics) (float64, bool) {
				used, okUsed := m.Float("memory_used")
				total, okTotal := m.Float("memory_total")
				if !okUsed || !okTotal || total == 0 {
					return 0, false
				}
				return used / total * 100, true
			},
		},
		{
			Name:      "utilization",
			Label:     "Utilization",
			Unit:      "%",
			Threshold: d.UtilizationThreshold,
			Extract: func(m types.DeviceMetrics) (float64, bool) {
				return m.Float("utilization")
			},
		},
		{
			Name:      "power_draw",
			Label:     "Power Draw",
			Unit:      "W",
			Threshold: d.PowerThreshold,
			Extract: func(m types.DeviceMetrics) (float64, bool) {
				return m.Float("power_draw")
			},
		},
	}
}
