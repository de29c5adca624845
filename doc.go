// Package msgpump implements the receiver side of a message-bus client:
// a pool of independent workers that pull messages from a transport,
// limit how many are in flight at once, run each message through a
// processing pipeline inside a transactional scope, and shut down
// gracefully under a deadline.
//
// Design goals
//
// The package is designed around the following principles:
//
//   - Never block a worker while it holds no resource
//   - Isolate per-message failures from the worker loop
//   - Make every suspension point interruptible by cancellation
//   - Bound shutdown time even when a receive is stuck
//
// Rather than optimizing for raw dequeue throughput, msgpump optimizes
// for liveness: a worker survives arbitrary transport and pipeline
// failures and only ever ends on an explicit stop.
//
// Architecture overview
//
// The pump is composed of three loosely coupled pieces:
//
//   1. Throttle
//      A bounded permit pool shared by all workers. Acquire is
//      non-blocking; denial is the back-pressure signal, not an
//      error, and feeds into the backoff loop.
//
//   2. Backoff
//      An adaptive pacing policy with independent inputs for "pool
//      saturated", "source empty" and "something failed". A single
//      successful message resets it to the minimum delay.
//
//   3. Workers (Pump)
//      Each worker owns one goroutine and one loop: acquire a permit,
//      attempt a receive inside a fresh processing scope, run the
//      pipeline, complete or abort the scope, release the permit.
//      Parallelism comes from running multiple workers, additionally
//      bounded by the shared throttle, which may be tighter than the
//      worker count.
//
// Transactional model
//
// Every receive attempt opens a fresh ProcessingScope. A scope that
// yielded a message sees exactly one of Complete or Abort before it is
// closed; a scope that found no message is closed without either call.
// The scope is passed explicitly through the step context, there is no
// ambient process-wide slot.
//
// Error handling
//
// The pump distinguishes four classes of outcomes:
//
//   - Cancellation: shutdown in progress, swallowed silently
//   - Transport errors: logged, trigger error backoff, no pipeline run
//   - Processing errors: scope aborted, logged with the message label,
//     the loop moves on
//   - Shutdown timeout: the worker goroutine is abandoned and a
//     warning is logged; in-flight work has undefined completion state
//
// No error from receive or processing ever terminates a worker.
//
// Ordering
//
// No ordering is guaranteed across workers. Within a single worker,
// receive and process for one message run to completion before the
// next permit is considered.
package msgpump
