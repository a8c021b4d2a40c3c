package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/gpuhot/gpuhot/pkg/types"
)

const collectTimeout = 10 * time.Second

// DCGM exporter metric families we map into DeviceMetrics.
const (
	dcgmTemp       = "DCGM_FI_DEV_GPU_TEMP"
	dcgmUtil       = "DCGM_FI_DEV_GPU_UTIL"
	dcgmFBUsed     = "DCGM_FI_DEV_FB_USED"
	dcgmFBFree     = "DCGM_FI_DEV_FB_FREE"
	dcgmPowerUsage = "DCGM_FI_DEV_POWER_USAGE"
	dcgmSMClock    = "DCGM_FI_DEV_SM_CLOCK"
	dcgmMemClock   = "DCGM_FI_DEV_MEM_CLOCK"
	dcgmMemTemp    = "DCGM_FI_DEV_MEMORY_TEMP"
)

// metric key each family lands under in DeviceMetrics.
var dcgmFields = map[string]string{
	dcgmTemp:       "temperature",
	dcgmUtil:       "utilization",
	dcgmFBUsed:     "memory_used",
	dcgmPowerUsage: "power_draw",
	dcgmSMClock:    "clock_sm",
	dcgmMemClock:   "clock_memory",
	dcgmMemTemp:    "memory_temperature",
}

// DCGM scrapes an NVIDIA DCGM-exporter endpoint and converts the exposition
// into per-device metric maps. Devices are keyed by the exporter's "gpu"
// label (the device index).
type DCGM struct {
	nodeName string
	endpoint string
	client   *http.Client
}

// NewDCGM creates a DCGM source scraping endpoint (e.g. "http://localhost:9400/metrics").
func NewDCGM(nodeName, endpoint string) *DCGM {
	return &DCGM{
		nodeName: nodeName,
		endpoint: endpoint,
		client:   &http.Client{Timeout: collectTimeout},
	}
}

// Collect fetches and parses one exposition, returning a complete snapshot.
func (d *DCGM) Collect(ctx context.Context) (*types.NodeSnapshot, error) {
	mfs, err := d.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("dcgm collect %q: %w", d.endpoint, err)
	}

	devices := make(map[string]types.DeviceMetrics)
	for family, key := range dcgmFields {
		mf := mfs[family]
		if mf == nil {
			continue
		}
		for _, m := range mf.GetMetric() {
			id := label(m, "gpu")
			if id == "" {
				continue
			}
			dev, ok := devices[id]
			if !ok {
				dev = types.DeviceMetrics{"index": id}
				devices[id] = dev
			}
			dev[key] = gaugeValue(m)
			if uuid := label(m, "UUID"); uuid != "" {
				dev["uuid"] = uuid
			}
			if name := label(m, "modelName"); name != "" {
				dev["name"] = name
			}
		}
	}

	// FB total is not exported directly; derive it from used + free.
	if mf := mfs[dcgmFBFree]; mf != nil {
		for _, m := range mf.GetMetric() {
			id := label(m, "gpu")
			dev, ok := devices[id]
			if !ok {
				continue
			}
			if used, has := dev.Float("memory_used"); has {
				dev["memory_total"] = used + gaugeValue(m)
			}
		}
	}

	return &types.NodeSnapshot{
		NodeName:  d.nodeName,
		Devices:   devices,
		Processes: []types.ProcessInfo{},
		System:    types.SystemInfo{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	}, nil
}

func (d *DCGM) fetch(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseExposition(resp.Body)
}

// parseExposition decodes a Prometheus text exposition into metric families.
// A partial result with a trailing parse warning is still returned.
func parseExposition(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse exposition: %w", err)
	}
	return mfs, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func gaugeValue(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}
