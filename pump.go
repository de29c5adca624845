package msgpump

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Pump runs a fixed set of workers against one transport. It owns the
// only state shared across workers: the permit throttle, the backoff
// strategy, the metrics sink and the optional receive rate limiter.
type Pump struct {
	id   string
	opts Options

	transport Transport
	pipeline  PipelineInvoker
	scopes    ScopeFactory

	throttle *Throttle
	backoff  *Backoff
	metrics  MetricsPolicy
	limiter  *rate.Limiter

	// OnTransportError is invoked for receive and scope-open failures.
	// Set it before Start; nil means log-only.
	OnTransportError func(error)

	// OnProcessingError is invoked when a message's pipeline run or
	// commit failed and its scope was aborted. Set it before Start;
	// nil means log-only.
	OnProcessingError func(*Message, error)

	workers   []*Worker
	startOnce sync.Once
}

// NewPump creates a pump over the given collaborators. metrics may be
// nil to disable collection.
func NewPump(transport Transport, pipeline PipelineInvoker, scopes ScopeFactory, metrics MetricsPolicy, opts Options) *Pump {
	opts.FillDefaults()
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	var limiter *rate.Limiter
	if opts.ReceiveRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ReceiveRate), opts.ReceiveBurst)
	}

	return &Pump{
		id:        uuid.NewString()[:8],
		opts:      opts,
		transport: transport,
		pipeline:  pipeline,
		scopes:    scopes,
		throttle:  NewThrottle(opts.MaxConcurrency),
		backoff:   NewBackoff(opts.MinWait, opts.MaxWait, opts.ErrorMinWait, opts.ErrorMaxWait, opts.Multiplier),
		metrics:   metrics,
		limiter:   limiter,
	}
}

// Start launches the workers. Subsequent calls are no-ops. ctx is the
// parent of every worker's cancellation context; cancelling it stops
// the pump as if Stop had been called.
func (p *Pump) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.opts.WorkerCount; i++ {
			w := &Worker{
				name:              fmt.Sprintf("pump-%s-worker-%d", p.id, i),
				transport:         p.transport,
				pipeline:          p.pipeline,
				scopes:            p.scopes,
				throttle:          p.throttle,
				backoff:           p.backoff,
				metrics:           p.metrics,
				limiter:           p.limiter,
				holdTokenOnEmpty:  !p.opts.ReleaseTokenOnEmpty,
				pinCPU:            p.pinFor(i),
				onTransportError:  p.OnTransportError,
				onProcessingError: p.OnProcessingError,
			}
			p.workers = append(p.workers, w)
			w.start(ctx)
		}
		lg.FromContext(ctx).Info("message pump started",
			lg.String("pump", p.id),
			lg.Int("workers", p.opts.WorkerCount),
			lg.Int("max_concurrency", p.opts.MaxConcurrency),
		)
	})
}

func (p *Pump) pinFor(i int) int {
	if !p.opts.PinWorkers {
		return -1
	}
	return i % runtime.NumCPU()
}

// Stop requests every worker to exit. Fire-and-forget and idempotent;
// use Shutdown to wait for them.
func (p *Pump) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
}

// Shutdown stops all workers and waits for them to finish. Each worker
// gets at most Options.ShutdownTimeout before its goroutine is
// abandoned; ctx bounds the overall wait. The joined error carries one
// ErrShutdownTimeout per abandoned worker.
func (p *Pump) Shutdown(ctx context.Context) error {
	p.Stop()

	errs := make([]error, len(p.workers))
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i, w := range p.workers {
			wg.Add(1)
			go func(i int, w *Worker) {
				defer wg.Done()
				errs[i] = w.Shutdown(p.opts.ShutdownTimeout)
			}(i, w)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveWorkers returns the number of workers that have not reached
// the Stopped state. Intended for cold-path observation.
func (p *Pump) ActiveWorkers() int {
	n := 0
	for _, w := range p.workers {
		if w.State() != WorkerStopped {
			n++
		}
	}
	return n
}

// Workers returns the configured worker count.
func (p *Pump) Workers() int { return p.opts.WorkerCount }
