package can

import "errors"

// Device is a raw CAN device endpoint.
//
// Write transmits a single frame and may block until the frame is queued in
// the controller; it is therefore not safe to call from the driver's receive
// context. Inbound frames are delivered through the handler registered with
// Subscribe. The handler runs in the driver's receive context (the software
// analogue of an ISR): it must not block, and it should do no more work than
// handing the frame off to a queue.
type Device interface {
	// Write transmits one frame.
	Write(Frame) error

	// Subscribe registers the receive handler. Only one handler is active at
	// a time; registering replaces the previous one. A nil handler detaches.
	Subscribe(func(Frame))

	// Close releases resources. Further Write calls return ErrClosed.
	Close() error
}

// ErrClosed indicates the device or bus has been closed.
var ErrClosed = errors.New("can: closed")
