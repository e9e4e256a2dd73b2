package isotp

import "errors"

// Facade-level error taxonomy. All values work with errors.Is; ErrProtocol
// additionally wraps the engine's cause.
var (
	// ErrInvalidArgument reports a nil or zero-sized input.
	ErrInvalidArgument = errors.New("isotp: invalid argument")

	// ErrClosed reports an operation on a closed stack or link.
	ErrClosed = errors.New("isotp: closed")

	// ErrTimeout reports that no completion occurred within the budget.
	ErrTimeout = errors.New("isotp: timeout")

	// ErrProtocol reports that the transport engine rejected the operation
	// or signaled a protocol failure.
	ErrProtocol = errors.New("isotp: protocol error")

	// ErrBufferTooSmall reports that the caller-supplied buffer cannot hold
	// the delivered message. Nothing is copied.
	ErrBufferTooSmall = errors.New("isotp: buffer too small")

	// ErrTruncated is a soft condition returned alongside received data: the
	// message exceeded the link's own receive capacity and was cut short
	// during assembly. The returned bytes are valid, just incomplete.
	ErrTruncated = errors.New("isotp: message truncated")
)
