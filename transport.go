package msgpump

import (
	"context"
)

// Message is one unit of work pulled from the transport. The payload is
// opaque to the pump; ID is only used to label log entries when
// processing fails. Headers travel with the message into the pipeline
// untouched.
type Message struct {
	ID      string
	Headers map[string]string
	Body    []byte
}

// Transport is the external channel messages are pulled from.
//
// Receive returns (nil, nil) when no message is currently available;
// that is a normal outcome, not an error. A non-nil error indicates a
// transport-level failure for this attempt. Receive must observe ctx
// and return within bounded time once it is cancelled; a cancelled
// receive should return ctx.Err().
//
// The scope passed in is the transactional unit the received message
// will be processed under. Transports that ack on commit should attach
// the in-flight delivery to it.
type Transport interface {
	Receive(ctx context.Context, scope ProcessingScope) (*Message, error)
}

// ProcessingScope bounds the side effects of one message. Exactly one
// of Complete or Abort is invoked per scope that yielded a message;
// Close always runs once regardless of outcome, including for scopes
// whose receive found nothing.
type ProcessingScope interface {
	// Complete commits the side effects of processing, including the
	// message acknowledgement if the transport tied it to this scope.
	Complete(ctx context.Context) error

	// Abort discards the side effects. It must be safe to call after a
	// failed Complete.
	Abort()

	// Close releases the scope's resources. Idempotence is the
	// implementation's concern; the pump calls it exactly once.
	Close() error
}

// ScopeFactory opens a fresh ProcessingScope for one receive attempt.
type ScopeFactory interface {
	OpenScope(ctx context.Context) (ProcessingScope, error)
}

// StepContext is handed to the pipeline for one message. The scope is
// carried explicitly so steps can enlist work in the surrounding
// transaction without any process-wide slot.
type StepContext struct {
	Message *Message
	Scope   ProcessingScope
}

// PipelineInvoker runs all configured processing steps for one message.
// An error from any step propagates to the worker, which aborts the
// scope.
type PipelineInvoker interface {
	Invoke(ctx context.Context, sc *StepContext) error
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(ctx context.Context, scope ProcessingScope) (*Message, error)

func (f TransportFunc) Receive(ctx context.Context, scope ProcessingScope) (*Message, error) {
	return f(ctx, scope)
}

// PipelineFunc adapts a plain function to the PipelineInvoker interface.
type PipelineFunc func(ctx context.Context, sc *StepContext) error

func (f PipelineFunc) Invoke(ctx context.Context, sc *StepContext) error {
	return f(ctx, sc)
}
