package alerts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gpuhot/gpuhot/internal/obsv"
)

// sendTimeout bounds one channel send, rate-limiter wait included.
const sendTimeout = 30 * time.Second

// dispatcher decouples the evaluator from delivery so tests can substitute
// a synchronous recorder.
type dispatcher interface {
	Dispatch(channels []Channel, message string, mc MessageContext)
}

// Dispatcher fans a notification out to every channel as an independent
// background unit of work. One channel's failure or latency never blocks
// another channel or the evaluation loop; failures are logged with the
// channel's identity and the subject, never retried, never surfaced to the
// caller.
type Dispatcher struct {
	metrics *obsv.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(m *obsv.Metrics) *Dispatcher {
	return &Dispatcher{
		metrics:  m,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Dispatch fires message at every channel on its own goroutine and returns
// immediately.
func (d *Dispatcher) Dispatch(channels []Channel, message string, mc MessageContext) {
	for _, ch := range channels {
		go d.send(ch, message, mc)
	}
}

func (d *Dispatcher) send(ch Channel, message string, mc MessageContext) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alerts: channel send panicked",
				"channel", ch.Type(), "id", ch.ID(), "panic", r)
			d.metrics.IncNotifyFailure(ch.Type())
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	// Outbound services throttle aggressively; cap each channel's send rate
	// rather than letting a flapping fleet hammer them.
	if err := d.limiter(ch.ID()).Wait(ctx); err != nil {
		slog.Warn("alerts: dropping notification, rate limit wait expired",
			"channel", ch.Type(), "id", ch.ID())
		d.metrics.IncNotifyFailure(ch.Type())
		return
	}

	if err := ch.Send(ctx, message, mc); err != nil {
		slog.Error("alerts: notification send failed",
			"channel", ch.Type(),
			"id", ch.ID(),
			"node", mc.NodeName,
			"device", mc.DeviceID,
			"err", err,
		)
		d.metrics.IncNotifyFailure(ch.Type())
		return
	}

	slog.Info("alerts: notification sent",
		"channel", ch.Type(), "node", mc.NodeName, "device", mc.DeviceID, "event", mc.Event)
}

func (d *Dispatcher) limiter(id string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 5)
		d.limiters[id] = lim
	}
	return lim
}
