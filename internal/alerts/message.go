package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gpuhot/gpuhot/pkg/types"
)

// displayTimeLayout is the human-readable timestamp used in message bodies.
const displayTimeLayout = "Jan 02, 2006 - 3:04 PM"

// ruleValue is one rule outcome within a single evaluation cycle: the rule
// plus the extracted value, if the metric was present at all.
type ruleValue struct {
	rule  *Rule
	value float64
	has   bool
}

func buildAlertMessage(nodeName, deviceID string, metrics types.DeviceMetrics, triggered []ruleValue, processes []types.ProcessInfo, now time.Time) (string, Embed) {
	gpuLine := gpuIdentity(deviceID, metrics)
	when := now.Format(displayTimeLayout)

	var b strings.Builder
	fmt.Fprintf(&b, "GPU Hot alert on %s\n", nodeName)
	fmt.Fprintf(&b, "%s\n", gpuLine)
	fmt.Fprintf(&b, "Time: %s\n", when)

	embed := Embed{
		Title:       "GPU Threshold Alert",
		Description: gpuLine,
		Color:       alertEmbedColor,
		FooterText:  fmt.Sprintf("%s - GPU Monitoring", nodeName),
		Fields:      []EmbedField{{Name: "Time", Value: when, Inline: true}},
	}

	for _, rv := range triggered {
		fmt.Fprintf(&b, "%s: %s (threshold %s)\n",
			rv.rule.Label, rv.rule.FormatValue(rv.value), rv.rule.FormatThreshold())
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   rv.rule.Label,
			Value:  fmt.Sprintf("%s (threshold %s)", rv.rule.FormatValue(rv.value), rv.rule.FormatThreshold()),
			Inline: true,
		})
	}

	if line := topProcessLine(deviceID, metrics, processes); line != "" {
		fmt.Fprintf(&b, "Top process: %s\n", line)
		embed.Fields = append(embed.Fields, EmbedField{Name: "Top Process", Value: line})
	}

	return strings.TrimRight(b.String(), "\n"), embed
}

func buildRecoveryMessage(nodeName, deviceID string, metrics types.DeviceMetrics, recovered []ruleValue, now time.Time) (string, Embed) {
	gpuLine := gpuIdentity(deviceID, metrics)
	when := now.Format(displayTimeLayout)

	var b strings.Builder
	fmt.Fprintf(&b, "GPU Hot recovery on %s\n", nodeName)
	fmt.Fprintf(&b, "%s\n", gpuLine)
	fmt.Fprintf(&b, "Time: %s\n", when)

	embed := Embed{
		Title:       "GPU Recovered",
		Description: gpuLine,
		Color:       recoveryEmbedColor,
		FooterText:  fmt.Sprintf("%s - GPU Monitoring", nodeName),
		Fields:      []EmbedField{{Name: "Time", Value: when, Inline: true}},
	}

	for _, rv := range recovered {
		current := "no longer reported"
		if rv.has {
			current = fmt.Sprintf("back to %s", rv.rule.FormatValue(rv.value))
		}
		fmt.Fprintf(&b, "%s: %s (threshold %s)\n", rv.rule.Label, current, rv.rule.FormatThreshold())
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   rv.rule.Label,
			Value:  fmt.Sprintf("%s (threshold %s)", current, rv.rule.FormatThreshold()),
			Inline: true,
		})
	}

	return strings.TrimRight(b.String(), "\n"), embed
}

func gpuIdentity(deviceID string, metrics types.DeviceMetrics) string {
	name := metrics.DisplayName(deviceID)
	if uuid := metrics.UUID(); uuid != "" {
		return fmt.Sprintf("%s (%s)", name, uuid)
	}
	return fmt.Sprintf("%s (ID %s)", name, deviceID)
}

// topProcessLine names the process using the most GPU memory on the alerting
// device, matched by UUID when available, falling back to the device index.
func topProcessLine(deviceID string, metrics types.DeviceMetrics, processes []types.ProcessInfo) string {
	uuid := metrics.UUID()

	matched := make([]types.ProcessInfo, 0, len(processes))
	for _, p := range processes {
		if uuid != "" && p.GPUUUID == uuid {
			matched = append(matched, p)
			continue
		}
		if uuid == "" && p.GPUID == deviceID {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return ""
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Memory > matched[j].Memory })
	top := matched[0]
	if top.Memory > 0 {
		return fmt.Sprintf("%s (PID %s, %.0f MiB)", top.Name, top.PID, top.Memory)
	}
	return fmt.Sprintf("%s (PID %s)", top.Name, top.PID)
}
