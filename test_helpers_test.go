package msgpump

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fastOptions keeps backoff delays tiny so tests don't sit in waits.
func fastOptions() Options {
	return Options{
		WorkerCount:     1,
		MaxConcurrency:  1,
		ShutdownTimeout: time.Second,
		MinWait:         time.Millisecond,
		MaxWait:         5 * time.Millisecond,
		ErrorMinWait:    time.Millisecond,
		ErrorMaxWait:    5 * time.Millisecond,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not satisfied before timeout")
}

// fakeScope records lifecycle calls for one receive attempt.
type fakeScope struct {
	completes   atomic.Int32
	aborts      atomic.Int32
	closes      atomic.Int32
	completeErr error
}

func (s *fakeScope) Complete(context.Context) error {
	s.completes.Add(1)
	return s.completeErr
}

func (s *fakeScope) Abort() { s.aborts.Add(1) }

func (s *fakeScope) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeScopes opens a fresh fakeScope per attempt and keeps them all
// for inspection.
type fakeScopes struct {
	mu          sync.Mutex
	opened      []*fakeScope
	completeErr error
}

func (f *fakeScopes) OpenScope(context.Context) (ProcessingScope, error) {
	s := &fakeScope{completeErr: f.completeErr}
	f.mu.Lock()
	f.opened = append(f.opened, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeScopes) scopes() []*fakeScope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeScope(nil), f.opened...)
}

// countingPipeline counts invocations and returns a fixed error.
type countingPipeline struct {
	calls atomic.Int32
	err   error
}

func (p *countingPipeline) Invoke(context.Context, *StepContext) error {
	p.calls.Add(1)
	return p.err
}

// blockedReceive returns a transport that blocks until ctx is done.
func blockedReceive() TransportFunc {
	return func(ctx context.Context, _ ProcessingScope) (*Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// stuckReceive returns a transport that ignores cancellation entirely,
// for exercising the forced-shutdown path. The returned channel must
// be closed by the test to let the goroutine go.
func stuckReceive() (TransportFunc, chan struct{}) {
	unstick := make(chan struct{})
	fn := func(context.Context, ProcessingScope) (*Message, error) {
		<-unstick
		return nil, nil
	}
	return fn, unstick
}

// oneMessageThenBlock serves a single message and then blocks until
// cancelled.
func oneMessageThenBlock(id string) TransportFunc {
	var served atomic.Bool
	return func(ctx context.Context, _ ProcessingScope) (*Message, error) {
		if served.CompareAndSwap(false, true) {
			return &Message{ID: id, Body: []byte("payload")}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}
