package msgpump

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"golang.org/x/time/rate"
)

// ErrShutdownTimeout is returned by Shutdown when the worker goroutine
// did not finish within the configured timeout and was abandoned.
var ErrShutdownTimeout = errors.New("msgpump: worker did not stop within timeout")

// WorkerState is the lifecycle state of one worker. Transitions are
// linear: Running -> StopRequested -> Stopped, no re-entry.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerStopRequested
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "Running"
	case WorkerStopRequested:
		return "StopRequested"
	case WorkerStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Worker is one independently looping execution unit. It repeatedly
// asks the shared throttle for a permit and, when granted, runs one
// receive-and-process operation to completion before considering the
// next permit. Workers are created by a Pump and share its throttle,
// backoff and metrics.
type Worker struct {
	name string

	transport Transport
	pipeline  PipelineInvoker
	scopes    ScopeFactory
	throttle  *Throttle
	backoff   *Backoff
	metrics   MetricsPolicy
	limiter   *rate.Limiter

	holdTokenOnEmpty bool
	pinCPU           int // -1 when pinning is disabled

	onTransportError  func(error)
	onProcessingError func(*Message, error)

	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// Name returns the worker's identity, used in log entries.
func (w *Worker) Name() string { return w.name }

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// start launches the worker's goroutine. Called once by the pump.
func (w *Worker) start(parent context.Context) {
	w.ctx, w.cancel = context.WithCancel(parent)
	w.done = make(chan struct{})
	go w.run()
}

// Stop requests the worker to exit its loop. Fire-and-forget and
// idempotent; the cancellation signal is monotonic. A receive in
// flight is unblocked, a message already received runs to completion.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopRequested))
		w.cancel()
	})
}

// Shutdown calls Stop and waits up to timeout for the loop to finish.
// If it has not finished by then, the goroutine is abandoned (Go has
// no forced kill), a warning is logged and ErrShutdownTimeout is
// returned. Work in flight on an abandoned worker has undefined
// completion state.
func (w *Worker) Shutdown(timeout time.Duration) error {
	w.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		lg.FromContext(context.Background()).Warn("worker did not stop in time, abandoning goroutine",
			lg.String("worker", w.name),
			lg.String("timeout", timeout.String()),
		)
		w.state.Store(int32(WorkerStopped))
		return ErrShutdownTimeout
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.state.Store(int32(WorkerStopped))

	if w.pinCPU >= 0 {
		runtime.LockOSThread()
		if err := pinToCPU(w.pinCPU); err != nil {
			lg.FromContext(w.ctx).Warn("failed to pin worker",
				lg.String("worker", w.name),
				lg.Any("error", err),
			)
		}
	}

	for w.ctx.Err() == nil {
		w.iterate()
	}
}

// iterate is one guarded loop turn. Nothing escaping it may kill the
// worker; a panic is logged and treated as an error signal.
func (w *Worker) iterate() {
	defer func() {
		if r := recover(); r != nil {
			lg.FromContext(w.ctx).Error("worker iteration panicked",
				lg.String("worker", w.name),
				lg.Any("panic", r),
			)
			w.backoff.WaitError(w.ctx)
		}
	}()

	if w.limiter != nil {
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}
	}

	tok := w.throttle.Acquire()
	if !tok.Granted() {
		w.metrics.IncThrottled()
		w.backoff.WaitThrottled(w.ctx)
		return
	}
	w.metrics.AddInFlight(1)
	w.receiveAndProcess(tok)
}

// receiveAndProcess runs one operation scoped to one token and one
// ProcessingScope. The token and the scope are always released no
// matter which path is taken.
func (w *Worker) receiveAndProcess(tok *Token) {
	var relOnce sync.Once
	release := func() {
		relOnce.Do(func() {
			tok.Release()
			w.metrics.AddInFlight(-1)
		})
	}
	defer release()

	logger := lg.FromContext(w.ctx).With(lg.String("worker", w.name))

	scope, err := w.scopes.OpenScope(w.ctx)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		logger.Warn("failed to open processing scope", lg.Any("error", err))
		w.reportTransportError(err)
		w.backoff.WaitError(w.ctx)
		return
	}
	defer func() {
		if cerr := scope.Close(); cerr != nil {
			logger.Warn("scope close failed", lg.Any("error", cerr))
		}
	}()

	msg, err := w.transport.Receive(w.ctx, scope)
	if err != nil {
		if w.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// shutdown interrupted the receive, not an error
			return
		}
		logger.Warn("receive failed", lg.Any("error", err))
		w.reportTransportError(err)
		w.backoff.WaitError(w.ctx)
		return
	}
	if msg == nil {
		w.metrics.IncEmptyPoll()
		if !w.holdTokenOnEmpty {
			release()
		}
		// default keeps the token held across the empty wait so a
		// competing worker does not immediately re-poll the same
		// empty source
		w.backoff.WaitEmpty(w.ctx)
		return
	}

	w.metrics.IncReceived()
	w.backoff.Reset()
	w.process(msg, scope)
}

// process runs the pipeline and commits the scope. A message already
// received is never aborted mid-pipeline by shutdown, so the pipeline
// and the commit run under a context detached from the worker's
// cancellation.
func (w *Worker) process(msg *Message, scope ProcessingScope) {
	ctx := context.WithoutCancel(w.ctx)
	logger := lg.FromContext(w.ctx).With(lg.String("worker", w.name))

	if err := w.pipeline.Invoke(ctx, &StepContext{Message: msg, Scope: scope}); err != nil {
		scope.Abort()
		w.metrics.IncFailed()
		logger.Error("message processing failed",
			lg.String("message_id", msg.ID),
			lg.Any("error", err),
		)
		w.reportProcessingError(msg, err)
		return
	}

	if err := scope.Complete(ctx); err != nil {
		// terminal outcome for this message at this layer, no retry
		w.metrics.IncFailed()
		logger.Error("scope completion failed",
			lg.String("message_id", msg.ID),
			lg.Any("error", err),
		)
		w.reportProcessingError(msg, err)
		return
	}

	w.metrics.IncProcessed()
}
