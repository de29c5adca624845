package msgpump

import (
	"time"
)

const (
	DefaultWorkerCount     = 1
	DefaultShutdownTimeout = 30 * time.Second

	DefaultMinWait      = 50 * time.Millisecond
	DefaultMaxWait      = 10 * time.Second
	DefaultErrorMinWait = 500 * time.Millisecond
	DefaultErrorMaxWait = 60 * time.Second
	DefaultMultiplier   = 2.0
)

// Options configure a Pump.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type Options struct {
	// WorkerCount is the number of independently looping workers.
	WorkerCount int

	// MaxConcurrency bounds simultaneous in-flight receive/process
	// operations across all workers. Defaults to WorkerCount.
	MaxConcurrency int

	// ShutdownTimeout is how long Shutdown waits per worker before
	// abandoning its goroutine.
	ShutdownTimeout time.Duration

	// Backoff tuning. Throttled and empty waits escalate from MinWait
	// to MaxWait; error waits from ErrorMinWait to ErrorMaxWait.
	MinWait      time.Duration
	MaxWait      time.Duration
	ErrorMinWait time.Duration
	ErrorMaxWait time.Duration
	Multiplier   float64

	// HoldTokenOnEmpty keeps the concurrency permit held while the
	// worker sits out the empty-source backoff. This stops competing
	// workers from immediately re-polling an empty source, at the cost
	// of responsiveness when load resumes. Fairness/throughput
	// trade-off; the default is to hold.
	//
	// ReleaseTokenOnEmpty exists only to make the zero value of this
	// struct mean "hold".
	ReleaseTokenOnEmpty bool

	// ReceiveRate caps receive attempts per second across each worker
	// when positive. ReceiveBurst defaults to 1 when a rate is set.
	ReceiveRate  float64
	ReceiveBurst int

	// PinWorkers locks each worker goroutine to an OS thread pinned to
	// one CPU. Linux only; ignored elsewhere.
	PinWorkers bool
}

func (o *Options) FillDefaults() {
	if o.WorkerCount <= 0 {
		o.WorkerCount = DefaultWorkerCount
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = o.WorkerCount
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.MinWait <= 0 {
		o.MinWait = DefaultMinWait
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.ErrorMinWait <= 0 {
		o.ErrorMinWait = DefaultErrorMinWait
	}
	if o.ErrorMaxWait <= 0 {
		o.ErrorMaxWait = DefaultErrorMaxWait
	}
	if o.Multiplier <= 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.ReceiveRate > 0 && o.ReceiveBurst <= 0 {
		o.ReceiveBurst = 1
	}
}
