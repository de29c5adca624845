package msgpump

// reportTransportError reports a transport-level failure.
//
// Transport errors are receive or scope-open failures that produced
// no message. They never stop the worker and are reported via the
// pump's configured handler. If no handler is registered, the error
// is only logged.
func (w *Worker) reportTransportError(err error) {
	if w.onTransportError != nil {
		w.onTransportError(err)
	}
}

// reportProcessingError reports a failure while processing one
// received message, including a failed scope completion.
//
// Processing errors are terminal for the message at this layer; any
// redelivery is the transport's concern. If no handler is registered,
// the error is only logged.
func (w *Worker) reportProcessingError(msg *Message, err error) {
	if w.onProcessingError != nil {
		w.onProcessingError(msg, err)
	}
}
