package msgpump

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsPolicy defines hooks used by the pump to report receive and
// processing activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking.
type MetricsPolicy interface {

	// IncReceived increments the received messages counter.
	IncReceived()

	// IncProcessed increments the successfully processed counter.
	IncProcessed()

	// IncFailed increments the failed messages counter (pipeline or
	// commit failure).
	IncFailed()

	// IncEmptyPoll increments the counter of receives that found no
	// message.
	IncEmptyPoll()

	// IncThrottled increments the counter of denied permit acquires.
	IncThrottled()

	// AddInFlight adjusts the gauge of operations currently holding a
	// permit. delta is +1 on acquire and -1 on release.
	AddInFlight(delta int64)
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	received  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	emptyPoll atomic.Uint64
	throttled atomic.Uint64

	_ [24]byte // padding to avoid false sharing

	inFlight atomic.Int64
}

// Received returns the total number of received messages.
func (m *AtomicMetrics) Received() uint64 { return m.received.Load() }

// Processed returns the total number of successfully processed messages.
func (m *AtomicMetrics) Processed() uint64 { return m.processed.Load() }

// Failed returns the total number of failed messages.
func (m *AtomicMetrics) Failed() uint64 { return m.failed.Load() }

// EmptyPolls returns the total number of receives that found nothing.
func (m *AtomicMetrics) EmptyPolls() uint64 { return m.emptyPoll.Load() }

// Throttled returns the total number of denied permit acquires.
func (m *AtomicMetrics) Throttled() uint64 { return m.throttled.Load() }

// InFlight returns the current number of operations holding a permit.
func (m *AtomicMetrics) InFlight() int64 { return m.inFlight.Load() }

func (m *AtomicMetrics) IncReceived()          { m.received.Add(1) }
func (m *AtomicMetrics) IncProcessed()         { m.processed.Add(1) }
func (m *AtomicMetrics) IncFailed()            { m.failed.Add(1) }
func (m *AtomicMetrics) IncEmptyPoll()         { m.emptyPoll.Add(1) }
func (m *AtomicMetrics) IncThrottled()         { m.throttled.Add(1) }
func (m *AtomicMetrics) AddInFlight(d int64)   { m.inFlight.Add(d) }

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
//
// It can be used when metrics collection is disabled and
// zero overhead is desired.
type NoopMetrics struct{}

func (m *NoopMetrics) IncReceived()        {}
func (m *NoopMetrics) IncProcessed()       {}
func (m *NoopMetrics) IncFailed()          {}
func (m *NoopMetrics) IncEmptyPoll()       {}
func (m *NoopMetrics) IncThrottled()       {}
func (m *NoopMetrics) AddInFlight(int64)   {}

//------------- PromMetrics ----------------------------------

// PromMetrics exports pump activity through a Prometheus registry.
type PromMetrics struct {
	received  prometheus.Counter
	processed prometheus.Counter
	failed    prometheus.Counter
	emptyPoll prometheus.Counter
	throttled prometheus.Counter
	inFlight  prometheus.Gauge
}

// NewPromMetrics registers the pump collectors on reg and returns the
// policy. Registering twice on the same registry panics, as usual for
// MustRegister.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgpump_received_total",
			Help: "The total number of messages pulled from the transport.",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgpump_processed_total",
			Help: "The total number of messages processed and committed.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgpump_failed_total",
			Help: "The total number of messages whose processing was aborted.",
		}),
		emptyPoll: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgpump_empty_polls_total",
			Help: "The total number of receive attempts that found no message.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "msgpump_throttled_total",
			Help: "The total number of denied concurrency permit acquires.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msgpump_in_flight",
			Help: "The current number of operations holding a concurrency permit.",
		}),
	}
	reg.MustRegister(m.received, m.processed, m.failed, m.emptyPoll, m.throttled, m.inFlight)
	return m
}

func (m *PromMetrics) IncReceived()  { m.received.Inc() }
func (m *PromMetrics) IncProcessed() { m.processed.Inc() }
func (m *PromMetrics) IncFailed()    { m.failed.Inc() }
func (m *PromMetrics) IncEmptyPoll() { m.emptyPoll.Inc() }
func (m *PromMetrics) IncThrottled() { m.throttled.Inc() }
func (m *PromMetrics) AddInFlight(d int64) {
	m.inFlight.Add(float64(d))
}
