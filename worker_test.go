package msgpump

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerProcessesMessage(t *testing.T) {
	scopes := &fakeScopes{}
	pipeline := &countingPipeline{}
	metrics := &AtomicMetrics{}

	p := NewPump(oneMessageThenBlock("msg-1"), pipeline, scopes, metrics, fastOptions())
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	waitUntil(t, time.Second, func() bool { return metrics.Processed() == 1 })

	if got := pipeline.calls.Load(); got != 1 {
		t.Fatalf("pipeline invocations = %d; want 1", got)
	}
	s := scopes.scopes()[0]
	if got := s.completes.Load(); got != 1 {
		t.Fatalf("Complete calls = %d; want 1", got)
	}
	if got := s.aborts.Load(); got != 0 {
		t.Fatalf("Abort calls = %d; want 0", got)
	}
	waitUntil(t, time.Second, func() bool { return s.closes.Load() == 1 })
}

func TestTransportFailureSkipsPipeline(t *testing.T) {
	var receives atomic.Int32
	transport := TransportFunc(func(ctx context.Context, _ ProcessingScope) (*Message, error) {
		if receives.Add(1) == 1 {
			return nil, errors.New("broker unreachable")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pipeline := &countingPipeline{}
	scopes := &fakeScopes{}

	p := NewPump(transport, pipeline, scopes, nil, fastOptions())
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	// the loop must survive the failure and try again after backoff
	waitUntil(t, time.Second, func() bool { return receives.Load() >= 2 })

	if got := pipeline.calls.Load(); got != 0 {
		t.Fatalf("pipeline invocations after transport failure = %d; want 0", got)
	}
}

func TestTransportFailureInvokesHook(t *testing.T) {
	var receives atomic.Int32
	transport := TransportFunc(func(ctx context.Context, _ ProcessingScope) (*Message, error) {
		if receives.Add(1) == 1 {
			return nil, errors.New("broker unreachable")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var hookCalls atomic.Int32
	p := NewPump(transport, &countingPipeline{}, &fakeScopes{}, nil, fastOptions())
	p.OnTransportError = func(error) { hookCalls.Add(1) }
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	waitUntil(t, time.Second, func() bool { return hookCalls.Load() == 1 })
}

func TestPipelineFailureAbortsScope(t *testing.T) {
	scopes := &fakeScopes{}
	pipeline := &countingPipeline{err: errors.New("step blew up")}
	metrics := &AtomicMetrics{}

	var failedMsg atomic.Value
	p := NewPump(oneMessageThenBlock("poison-7"), pipeline, scopes, metrics, fastOptions())
	p.OnProcessingError = func(m *Message, _ error) { failedMsg.Store(m.ID) }
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	waitUntil(t, time.Second, func() bool { return metrics.Failed() == 1 })

	s := scopes.scopes()[0]
	if got := s.aborts.Load(); got != 1 {
		t.Fatalf("Abort calls = %d; want 1", got)
	}
	if got := s.completes.Load(); got != 0 {
		t.Fatalf("Complete calls = %d; want 0", got)
	}
	if got := failedMsg.Load(); got != "poison-7" {
		t.Fatalf("hook message id = %v; want poison-7", got)
	}
}

func TestCompleteFailureIsTerminal(t *testing.T) {
	scopes := &fakeScopes{completeErr: errors.New("commit conflict")}
	metrics := &AtomicMetrics{}

	p := NewPump(oneMessageThenBlock("msg-1"), &countingPipeline{}, scopes, metrics, fastOptions())
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	waitUntil(t, time.Second, func() bool { return metrics.Failed() == 1 })

	// exactly one of Complete/Abort, never both: the failed Complete
	// is the terminal outcome, no Abort follows it
	s := scopes.scopes()[0]
	if got := s.completes.Load(); got != 1 {
		t.Fatalf("Complete calls = %d; want 1", got)
	}
	if got := s.aborts.Load(); got != 0 {
		t.Fatalf("Abort calls after failed Complete = %d; want 0", got)
	}
}

func TestCancelDuringReceiveExitsSilently(t *testing.T) {
	pipeline := &countingPipeline{}
	scopes := &fakeScopes{}

	p := NewPump(blockedReceive(), pipeline, scopes, nil, fastOptions())
	p.Start(context.Background())

	// let the worker reach the blocking receive
	waitUntil(t, time.Second, func() bool { return len(scopes.scopes()) >= 1 })

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown err = %v; want nil", err)
	}
	if got := pipeline.calls.Load(); got != 0 {
		t.Fatalf("pipeline invocations = %d; want 0", got)
	}
	if got := scopes.scopes()[0].closes.Load(); got != 1 {
		t.Fatalf("scope Close calls = %d; want 1", got)
	}
	if got := p.ActiveWorkers(); got != 0 {
		t.Fatalf("active workers = %d; want 0", got)
	}
}

func TestPanicInPipelineDoesNotKillWorker(t *testing.T) {
	var receives atomic.Int32
	transport := TransportFunc(func(ctx context.Context, _ ProcessingScope) (*Message, error) {
		if receives.Add(1) == 1 {
			return &Message{ID: "boom"}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	pipeline := PipelineFunc(func(context.Context, *StepContext) error {
		panic("step panicked")
	})

	p := NewPump(transport, pipeline, &fakeScopes{}, nil, fastOptions())
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	// the guarded loop must come back for another receive
	waitUntil(t, time.Second, func() bool { return receives.Load() >= 2 })
}

func TestEmptyReceiveHoldsTokenByDefault(t *testing.T) {
	empty := TransportFunc(func(context.Context, ProcessingScope) (*Message, error) {
		return nil, nil
	})
	metrics := &AtomicMetrics{}

	opts := fastOptions()
	opts.WorkerCount = 2
	opts.MaxConcurrency = 1
	opts.MinWait = 20 * time.Millisecond
	opts.MaxWait = 20 * time.Millisecond

	p := NewPump(empty, &countingPipeline{}, &fakeScopes{}, metrics, opts)
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	// while one worker sits out the empty backoff holding the permit,
	// the other worker's acquire must be denied
	waitUntil(t, 2*time.Second, func() bool {
		return metrics.EmptyPolls() >= 1 && metrics.Throttled() >= 1
	})
}

func TestEmptyReceiveReleasePolicy(t *testing.T) {
	empty := TransportFunc(func(context.Context, ProcessingScope) (*Message, error) {
		return nil, nil
	})
	metrics := &AtomicMetrics{}

	opts := fastOptions()
	opts.WorkerCount = 2
	opts.MaxConcurrency = 1
	opts.MinWait = 20 * time.Millisecond
	opts.MaxWait = 20 * time.Millisecond
	opts.ReleaseTokenOnEmpty = true

	p := NewPump(empty, &countingPipeline{}, &fakeScopes{}, metrics, opts)
	p.Start(context.Background())
	defer p.Shutdown(context.Background())

	// with the permit released during the wait, both workers get to
	// poll the empty source
	waitUntil(t, 2*time.Second, func() bool { return metrics.EmptyPolls() >= 3 })
}

func TestWorkerStateTransitions(t *testing.T) {
	p := NewPump(blockedReceive(), &countingPipeline{}, &fakeScopes{}, nil, fastOptions())
	p.Start(context.Background())

	w := p.workers[0]
	if got := w.State(); got != WorkerRunning {
		t.Fatalf("state after start = %v; want Running", got)
	}

	w.Stop()
	w.Stop() // idempotent

	waitUntil(t, time.Second, func() bool { return w.State() == WorkerStopped })

	if err := w.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown after stop err = %v; want nil", err)
	}
}
