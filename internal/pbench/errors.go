package pbench

import "errors"

var (
	// ErrMalformedInput is returned when a request body or its parameters
	// cannot be parsed. Adapters surface it as InvalidArgument / 400.
	ErrMalformedInput = errors.New("malformed input")
	// ErrTransportWrite marks a failed write to a streaming consumer. The
	// stream is aborted and nothing is reported upstream.
	ErrTransportWrite = errors.New("transport write failure")
	// ErrResourceSample is returned by the OS metrics probe. Handlers never
	// see it: metrics degrade to zero instead.
	ErrResourceSample = errors.New("resource sample failure")
	ErrBatchItem      = errors.New("batch item failed")
)
