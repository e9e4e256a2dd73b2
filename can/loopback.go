package can

import (
	"sync"
)

// LoopbackBus is an in-memory CAN bus for tests and simulations. Multiple
// endpoints opened from the same bus exchange frames: a frame written on one
// endpoint is delivered to the handler of every other endpoint.
//
// Delivery happens synchronously on the writer's goroutine, which mirrors how
// a real driver invokes its receive callback from interrupt context. Handlers
// therefore must not block, the same obligation they carry on hardware.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopbackBus creates a new loopback bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open creates a new endpoint attached to the bus.
func (b *LoopbackBus) Open() Device {
	ep := &loopEndpoint{bus: b}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ep.dead = true
		return ep
	}
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.mu.Lock()
		ep.dead = true
		ep.handler = nil
		ep.mu.Unlock()
	}
	b.endpoints = nil
	b.mu.Unlock()
	return nil
}

type loopEndpoint struct {
	bus     *LoopbackBus
	mu      sync.Mutex
	dead    bool
	handler func(Frame)
}

// Write broadcasts the frame to all other endpoints on the same bus.
func (e *loopEndpoint) Write(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mu.Unlock()

	// Snapshot targets under the bus lock so delivery runs without it.
	e.bus.mu.RLock()
	if e.bus.closed {
		e.bus.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.RUnlock()

	for _, t := range targets {
		t.deliver(frame)
	}
	return nil
}

func (e *loopEndpoint) deliver(frame Frame) {
	e.mu.Lock()
	h := e.handler
	dead := e.dead
	e.mu.Unlock()
	if dead || h == nil {
		return
	}
	h(frame)
}

// Subscribe registers the receive handler for this endpoint.
func (e *loopEndpoint) Subscribe(fn func(Frame)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

// Close detaches the endpoint from the bus.
func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	e.mu.Lock()
	e.dead = true
	e.handler = nil
	e.mu.Unlock()
	return nil
}
