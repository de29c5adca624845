package msgpump

import (
	"context"
	"sync"
	"time"

	boff "github.com/cenkalti/backoff/v4"
)

// Backoff paces a worker's retries. Three unproductive signals feed it:
// the permit pool is saturated (WaitThrottled), the source is empty
// (WaitEmpty), and something failed (WaitError). Consecutive
// unproductive calls escalate the delay up to a configured ceiling;
// Reset drops it back to the minimum after a successful message.
//
// Throttled and empty share one escalation track; errors have their
// own, more conservative one, so an unstable transport can be tuned
// independently from an idle queue.
//
// One Backoff instance may be shared by all workers of a pump; all
// methods are safe for concurrent use. Waits observe ctx so a pacing
// delay never blocks shutdown.
type Backoff struct {
	mu   sync.Mutex
	idle *boff.ExponentialBackOff // throttled + empty
	err  *boff.ExponentialBackOff
}

// NewBackoff creates a strategy from tuning values. Zero values are
// replaced with the package defaults.
func NewBackoff(minWait, maxWait, errMinWait, errMaxWait time.Duration, multiplier float64) *Backoff {
	if minWait <= 0 {
		minWait = DefaultMinWait
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if errMinWait <= 0 {
		errMinWait = DefaultErrorMinWait
	}
	if errMaxWait <= 0 {
		errMaxWait = DefaultErrorMaxWait
	}
	if multiplier <= 1 {
		multiplier = DefaultMultiplier
	}
	return &Backoff{
		idle: newExponential(minWait, maxWait, multiplier),
		err:  newExponential(errMinWait, errMaxWait, multiplier),
	}
}

func newExponential(initial, max time.Duration, multiplier float64) *boff.ExponentialBackOff {
	e := boff.NewExponentialBackOff()
	e.InitialInterval = initial
	e.MaxInterval = max
	e.Multiplier = multiplier
	// deterministic escalation; jitter would break the monotonicity the
	// worker loop is tuned around
	e.RandomizationFactor = 0
	e.MaxElapsedTime = 0 // never give up
	e.Reset()
	return e
}

// WaitThrottled paces after a denied permit acquire. Returns the delay
// that was applied (the wait may end early if ctx is cancelled).
func (b *Backoff) WaitThrottled(ctx context.Context) time.Duration {
	d := b.nextIdle()
	sleepCtx(ctx, d)
	return d
}

// WaitEmpty paces after a receive that found no message.
func (b *Backoff) WaitEmpty(ctx context.Context) time.Duration {
	d := b.nextIdle()
	sleepCtx(ctx, d)
	return d
}

// WaitError paces after a transport or processing failure.
func (b *Backoff) WaitError(ctx context.Context) time.Duration {
	b.mu.Lock()
	d := b.err.NextBackOff()
	b.mu.Unlock()
	sleepCtx(ctx, d)
	return d
}

// Reset returns both escalation tracks to their minimum. Called after
// a message was handled so a single success restores responsiveness.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.idle.Reset()
	b.err.Reset()
	b.mu.Unlock()
}

func (b *Backoff) nextIdle() time.Duration {
	b.mu.Lock()
	d := b.idle.NextBackOff()
	b.mu.Unlock()
	return d
}

// sleepCtx blocks for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-ctx.Done():
		if !timer.Stop() {
			<-timer.C // drain if timer is fired
		}
	}
}
