package msgpump

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Throttle is a bounded permit pool shared by all workers of a pump.
// It limits how many receive/process operations are in flight at once,
// which may be tighter than the worker count.
//
// Acquire never blocks: denial is the expected back-pressure signal
// when all permits are in use, and the caller is expected to feed it
// into its backoff loop rather than wait here.
type Throttle struct {
	sem *semaphore.Weighted
	max int64
}

// NewThrottle creates a throttle with maxConcurrency permits.
// maxConcurrency values below one are coerced to one.
func NewThrottle(maxConcurrency int) *Throttle {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Throttle{
		sem: semaphore.NewWeighted(int64(maxConcurrency)),
		max: int64(maxConcurrency),
	}
}

// Acquire attempts to reserve one permit. It always returns a token;
// check Granted before using it. Safe for concurrent use.
func (t *Throttle) Acquire() *Token {
	if t.sem.TryAcquire(1) {
		return &Token{throttle: t, granted: true}
	}
	return &Token{}
}

// Max returns the configured permit bound.
func (t *Throttle) Max() int64 { return t.max }

// Token represents one permit reservation. A granted token must be
// released exactly once, on success or failure, to return the permit
// to the pool. Tokens are not shared across workers; the operation
// that acquired one owns it until release.
type Token struct {
	throttle *Throttle
	granted  bool
	released atomic.Bool
}

// Granted reports whether the acquire succeeded.
func (tk *Token) Granted() bool { return tk.granted }

// Release returns the permit to the pool. Releasing twice is a caller
// bug; the guard here only keeps it from corrupting the permit count.
// Releasing a denied token is a no-op.
func (tk *Token) Release() {
	if !tk.granted {
		return
	}
	if tk.released.CompareAndSwap(false, true) {
		tk.throttle.sem.Release(1)
	}
}
