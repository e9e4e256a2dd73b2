package isotp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/isotp/can"
	"github.com/notnil/isotp/tp"
)

// LinkConfig describes one logical request/response channel on a CAN device.
type LinkConfig struct {
	// SendID and RecvID are the arbitration ids used for outgoing frames and
	// matched against incoming frames. RecvID is immutable after creation.
	SendID uint32
	RecvID uint32

	// Extended selects 29-bit identifiers for outgoing frames and for the
	// RecvID match. RTR marks outgoing frames as remote requests; it exists
	// for parity with drivers that need it and is normally false.
	Extended bool
	RTR      bool

	// SendBuffer and RecvBuffer may be supplied by the caller; when nil they
	// are allocated with the corresponding size. The receive capacity bounds
	// the largest message the link can assemble and is fixed for its
	// lifetime. A link with no send buffer is listen-only.
	SendBuffer     []byte
	RecvBuffer     []byte
	SendBufferSize int
	RecvBufferSize int

	// Options tunes the link's protocol engine (block size, STmin, timeouts).
	Options tp.Options
}

// Link is one ISO-TP channel: a protocol engine plus the synchronization
// state that turns its asynchronous completions into blocking calls.
//
// A Link belongs to exactly one device and one Stack for its lifetime.
type Link struct {
	stack  *Stack
	dev    can.Device
	eng    *tp.Engine
	logger *slog.Logger

	sendID   uint32
	recvID   uint32
	extended bool
	rtr      bool

	sig    *signal
	sendMu sync.Mutex // send exclusivity: at most one in-flight send
	closed atomic.Bool

	mu          sync.Mutex // guards completion state below
	rxBuf       []byte // link-owned copy of the last completed message
	rxSize      int
	rxTruncated bool
	errCause    error
}

// NewLink creates a link, wires its engine to the device, and registers it.
// The link is visible to dispatch as soon as NewLink returns.
func (s *Stack) NewLink(dev can.Device, cfg LinkConfig) (*Link, error) {
	if dev == nil {
		return nil, ErrInvalidArgument
	}
	sendBuf := cfg.SendBuffer
	if sendBuf == nil && cfg.SendBufferSize > 0 {
		sendBuf = make([]byte, cfg.SendBufferSize)
	}
	recvBuf := cfg.RecvBuffer
	if recvBuf == nil && cfg.RecvBufferSize > 0 {
		recvBuf = make([]byte, cfg.RecvBufferSize)
	}
	if len(recvBuf) == 0 {
		return nil, ErrInvalidArgument
	}

	l := &Link{
		stack:    s,
		dev:      dev,
		logger:   s.logger,
		sendID:   cfg.SendID,
		recvID:   cfg.RecvID,
		extended: cfg.Extended,
		rtr:      cfg.RTR,
		sig:      newSignal(),
	}
	eng, err := tp.New(tp.Config{
		SendID:         cfg.SendID,
		SendBuffer:     sendBuf,
		RecvBuffer:     recvBuf,
		SendFrame:      l.sendFrame,
		OnSendComplete: l.onSendComplete,
		OnRecvComplete: l.onRecvComplete,
		OnError:        l.onError,
		Options:        cfg.Options,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	l.eng = eng
	if err := s.register(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Close removes the link from the registry and wakes any blocked Send or
// Receive with ErrClosed. Closing twice is a no-op.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.stack.remove(l)
	l.mu.Lock()
	l.errCause = ErrClosed
	l.mu.Unlock()
	l.sig.set(sigError)
	return nil
}

// Send transmits payload as one ISO-TP message and blocks until the engine
// reports completion, an error occurs, or timeout elapses. A negative
// timeout waits forever.
//
// Sends on the same link are serialized. A timed-out send leaves the
// underlying transfer draining; a send attempted before it concludes is
// rejected with ErrProtocol.
func (l *Link) Send(payload []byte, timeout time.Duration) error {
	if len(payload) == 0 {
		return ErrInvalidArgument
	}
	if l.closed.Load() {
		return ErrClosed
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	// Drop any stale completion left behind by a previous attempt that timed
	// out after the engine finished; otherwise it would satisfy this wait.
	l.sig.clear(sigSendDone | sigError)

	if err := l.eng.Send(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	fired, ok := l.sig.wait(sigSendDone|sigError, timeout)
	if !ok {
		return ErrTimeout
	}
	if fired&sigSendDone != 0 {
		return nil
	}
	return l.completionError()
}

// SendAsync performs only the initiation step and returns once the message
// is accepted by the engine; completion goes unobserved. Intended for
// fire-and-forget periodic transmissions.
func (l *Link) SendAsync(payload []byte) error {
	if len(payload) == 0 {
		return ErrInvalidArgument
	}
	if l.closed.Load() {
		return ErrClosed
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	l.sig.clear(sigSendDone | sigError)
	if err := l.eng.Send(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}

// Receive blocks until a complete message has been assembled into the link's
// receive buffer, an error occurs, or timeout elapses, then copies the
// message into buf. A negative timeout waits forever.
//
// When the message was truncated during assembly (it exceeded the link's
// receive capacity), Receive copies what was kept and returns it together
// with ErrTruncated. When even the kept part exceeds len(buf), it returns
// ErrBufferTooSmall and copies nothing; the completion is consumed either
// way.
func (l *Link) Receive(buf []byte, timeout time.Duration) (int, error) {
	if buf == nil {
		return 0, ErrInvalidArgument
	}
	if l.closed.Load() {
		return 0, ErrClosed
	}
	fired, ok := l.sig.wait(sigRecvDone|sigError, timeout)
	if !ok {
		return 0, ErrTimeout
	}
	if fired&sigRecvDone == 0 {
		return 0, l.completionError()
	}

	// Copy under the mutex: another message may complete concurrently and
	// rewrite rxBuf.
	l.mu.Lock()
	if l.rxSize > len(buf) {
		l.mu.Unlock()
		return 0, ErrBufferTooSmall
	}
	n := copy(buf, l.rxBuf[:l.rxSize])
	truncated := l.rxTruncated
	l.mu.Unlock()
	if truncated {
		return n, ErrTruncated
	}
	return n, nil
}

// SendID returns the arbitration id used for outgoing frames.
func (l *Link) SendID() uint32 { return l.sendID }

// RecvID returns the arbitration id the link listens on.
func (l *Link) RecvID() uint32 { return l.recvID }

// sendFrame is the engine's frame-send callback: it wraps the payload in a
// raw frame and writes it to the device.
func (l *Link) sendFrame(id uint32, data []byte) error {
	var f can.Frame
	f.ID = id
	f.Extended = l.extended
	f.RTR = l.rtr
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return l.dev.Write(f)
}

// Completion shims. These are the only writers of the link's signal and may
// run reentrantly from dispatch, the timing service, or a send initiation.

func (l *Link) onSendComplete(int) {
	l.sig.set(sigSendDone)
}

func (l *Link) onRecvComplete(data []byte, announced int) {
	// data aliases the engine's receive buffer and is only valid during this
	// callback; keep a link-owned copy for Receive.
	truncated := announced > len(data)
	l.mu.Lock()
	l.rxBuf = append(l.rxBuf[:0], data...)
	l.rxSize = len(data)
	l.rxTruncated = truncated
	l.mu.Unlock()
	if truncated && l.logger != nil {
		l.logger.Warn("isotp: inbound message truncated",
			"recv_id", l.recvID,
			"announced", announced,
			"stored", len(data),
		)
	}
	l.sig.set(sigRecvDone)
}

func (l *Link) onError(err error) {
	l.mu.Lock()
	l.errCause = err
	l.mu.Unlock()
	l.sig.set(sigError)
}

// completionError maps a consumed error signal to the facade taxonomy.
func (l *Link) completionError() error {
	l.mu.Lock()
	cause := l.errCause
	l.errCause = nil
	l.mu.Unlock()
	switch {
	case errors.Is(cause, ErrClosed):
		return ErrClosed
	case cause == nil:
		return ErrProtocol
	default:
		return fmt.Errorf("%w: %w", ErrProtocol, cause)
	}
}
