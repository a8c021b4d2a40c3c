package fleet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gpuhot/gpuhot/internal/obsv"
	"github.com/gpuhot/gpuhot/pkg/types"
)

// NodeRecord is the per-configured-node state held by the Aggregator.
// Records are replaced wholesale on every transition so readers never see a
// partially-updated record.
type NodeRecord struct {
	Name       string
	URL        string
	Status     types.NodeStatus
	Snapshot   *types.NodeSnapshot
	LastSeen   time.Time
	ErrorCount int
	LastError  string
}

// Evaluator receives each node's snapshot as it arrives. Implemented by
// alerts.Manager; nil disables alerting on the hub.
type Evaluator interface {
	Evaluate(nodeName string, devices map[string]types.DeviceMetrics, processes []types.ProcessInfo)
}

// Aggregator owns the fleet's node-record table and merges the latest
// per-node snapshots into one cluster view on demand.
//
// Connections are keyed by configured URL, but the display name comes from
// the payload's self-reported node name once received. The url→name index is
// owned here and updated in the same critical section as the record it
// describes, so a renamed node never leaves a duplicate entry behind.
type Aggregator struct {
	cacheFor time.Duration

	mu        sync.Mutex
	records   map[string]*NodeRecord // keyed by display name
	nameByURL map[string]string

	eval    Evaluator
	metrics *obsv.Metrics
	now     func() time.Time // injectable for deterministic tests
}

// NewAggregator creates an Aggregator for the given node endpoints. Every
// node starts offline with no snapshot.
func NewAggregator(urls []string, cacheFor time.Duration, eval Evaluator, m *obsv.Metrics) *Aggregator {
	a := &Aggregator{
		cacheFor:  cacheFor,
		records:   make(map[string]*NodeRecord, len(urls)),
		nameByURL: make(map[string]string, len(urls)),
		eval:      eval,
		metrics:   m,
		now:       time.Now,
	}
	for _, url := range urls {
		a.records[url] = &NodeRecord{Name: url, URL: url, Status: types.StatusOffline}
		a.nameByURL[url] = url
	}
	a.publishFleetGauges()
	return a
}

// ApplySnapshot records a successful receipt from the node at url: the
// record flips online, the snapshot and last-seen time are replaced, and the
// error counter resets. If the payload reports a different node name than
// currently mapped, the record is moved under the new name.
func (a *Aggregator) ApplySnapshot(url string, snap *types.NodeSnapshot) {
	name := snap.NodeName
	if name == "" {
		name = url
	}

	a.mu.Lock()
	if prev, ok := a.nameByURL[url]; ok && prev != name {
		delete(a.records, prev)
		slog.Info("fleet: node renamed", "url", url, "from", prev, "to", name)
	}
	a.nameByURL[url] = name
	a.records[name] = &NodeRecord{
		Name:     name,
		URL:      url,
		Status:   types.StatusOnline,
		Snapshot: snap,
		LastSeen: a.now(),
	}
	a.mu.Unlock()
	a.publishFleetGauges()

	if a.eval != nil {
		a.eval.Evaluate(name, snap.Devices, snap.Processes)
	}
}

// MarkOffline transitions the node at url to offline after a connection loss
// or timeout. The last snapshot is deliberately retained for cached display.
func (a *Aggregator) MarkOffline(url string, err error) {
	a.transition(url, types.StatusOffline, err)
}

// MarkError transitions the node at url to the error state after a protocol
// or parse failure.
func (a *Aggregator) MarkError(url string, err error) {
	a.transition(url, types.StatusError, err)
}

func (a *Aggregator) transition(url string, status types.NodeStatus, err error) {
	a.mu.Lock()
	name := a.nameByURL[url]
	if name == "" {
		name = url
	}
	old := a.records[name]
	rec := &NodeRecord{Name: name, URL: url, Status: status}
	if old != nil {
		rec.Snapshot = old.Snapshot
		rec.LastSeen = old.LastSeen
		rec.ErrorCount = old.ErrorCount
	}
	rec.ErrorCount++
	if err != nil {
		rec.LastError = err.Error()
	}
	a.records[name] = rec
	a.mu.Unlock()
	a.publishFleetGauges()
}

// Records returns copies of all node records, for the nodes API.
func (a *Aggregator) Records() []NodeRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]NodeRecord, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, *rec)
	}
	return out
}

// ClusterView merges the latest per-node state into one cluster view.
// Online nodes contribute their live snapshot. Offline nodes contribute
// their last snapshot annotated as cached, but only while it is younger than
// the offline cache window; past that, an empty placeholder with the
// recorded error is emitted instead. Summary counts are derived by iterating
// the merged view.
func (a *Aggregator) ClusterView() *types.ClusterView {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	view := &types.ClusterView{
		Mode:  "hub",
		Nodes: make(map[string]types.NodeView, len(a.records)),
	}

	for name, rec := range a.records {
		nv := types.NodeView{
			Status:    rec.Status,
			Devices:   map[string]types.DeviceMetrics{},
			Processes: []types.ProcessInfo{},
			Error:     rec.LastError,
		}
		if !rec.LastSeen.IsZero() {
			nv.LastUpdate = rec.LastSeen.UTC().Format(time.RFC3339)
		}

		live := rec.Status == types.StatusOnline && rec.Snapshot != nil
		cached := !live && rec.Snapshot != nil && now.Sub(rec.LastSeen) < a.cacheFor

		if live || cached {
			nv.Cached = cached
			nv.Devices = rec.Snapshot.Devices
			nv.Processes = rec.Snapshot.Processes
			nv.System = rec.Snapshot.System
			if cached {
				// A cached view is not an error condition for display.
				nv.Error = ""
			}
		}

		view.Nodes[name] = nv

		view.ClusterStats.TotalNodes++
		if rec.Status == types.StatusOnline {
			view.ClusterStats.OnlineNodes++
		} else {
			view.ClusterStats.OfflineNodes++
		}
		view.ClusterStats.TotalGPUs += len(nv.Devices)
	}

	return view
}

// Payload is a ws.ViewSource adapter returning the current cluster view.
func (a *Aggregator) Payload() (any, error) {
	return a.ClusterView(), nil
}

func (a *Aggregator) publishFleetGauges() {
	if a.metrics == nil {
		return
	}
	a.mu.Lock()
	total := len(a.records)
	online := 0
	for _, rec := range a.records {
		if rec.Status == types.StatusOnline {
			online++
		}
	}
	a.mu.Unlock()
	a.metrics.SetFleet(total, online)
}
