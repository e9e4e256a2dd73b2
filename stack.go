package isotp

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notnil/isotp/can"
)

// Defaults applied by New.
const (
	// DefaultQueueDepth is the capacity of the inbound raw-frame queue
	// between the driver's receive context and the dispatch goroutine.
	DefaultQueueDepth = 32

	// DefaultPollInterval is the period of the timing service that drives
	// protocol timeouts and separation-time pacing.
	DefaultPollInterval = 5 * time.Millisecond
)

// Option configures a Stack.
type Option func(*Stack)

// WithQueueDepth sets the inbound frame queue capacity.
func WithQueueDepth(n int) Option {
	return func(s *Stack) {
		if n > 0 {
			s.queue = make(chan can.Frame, n)
		}
	}
}

// WithPollInterval sets the timing service period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Stack) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger attaches a slog.Logger for warnings (truncated messages). The
// stack is silent without one.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stack) { s.logger = l }
}

// Stack manages a set of ISO-TP links sharing one or more CAN devices.
//
// It owns the link registry, the bounded queue that carries raw frames out of
// the driver's receive context, the single consumer goroutine that dispatches
// queued frames to matching links, and the timing service that periodically
// advances every link's protocol engine.
type Stack struct {
	queue        chan can.Frame
	stop         chan struct{}
	wg           sync.WaitGroup
	pollInterval time.Duration
	logger       *slog.Logger
	dropped      atomic.Uint64

	mu     sync.RWMutex
	links  []*Link // registration order; dispatch fans out in this order
	closed bool
}

// New creates a Stack and starts its dispatch and timing goroutines.
func New(opts ...Option) *Stack {
	s := &Stack{
		stop:         make(chan struct{}),
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.queue == nil {
		s.queue = make(chan can.Frame, DefaultQueueDepth)
	}
	s.wg.Add(2)
	go s.consume()
	go s.tick()
	return s
}

// HandleFrame ingests one raw frame. It is the producer side of the RX
// pipeline and is safe to call from a driver's receive context: it performs
// a single non-blocking push and, when the queue is full, drops the frame
// and counts the loss. It never blocks, retries, or allocates.
func (s *Stack) HandleFrame(f can.Frame) {
	select {
	case s.queue <- f:
	default:
		s.dropped.Add(1)
	}
}

// Bind subscribes HandleFrame as dev's receive handler.
func (s *Stack) Bind(dev can.Device) {
	dev.Subscribe(s.HandleFrame)
}

// Dropped returns the number of inbound frames lost to queue overflow.
func (s *Stack) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops the dispatch and timing goroutines and closes every remaining
// link. Frames still queued are discarded.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	links := append([]*Link(nil), s.links...)
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	for _, l := range links {
		l.Close()
	}
	return nil
}

// consume is the RX pipeline's consumer goroutine: the only place dispatch
// runs. Dispatch may make a link's engine transmit a reply frame (flow
// control) synchronously, which is a blocking device write and therefore
// must stay out of the driver's receive context.
func (s *Stack) consume() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case f := <-s.queue:
			s.dispatch(f)
		}
	}
}

// dispatch forwards the frame's payload to every link listening on its
// arbitration id. It deliberately does not stop at the first match: several
// links (e.g. an active responder and a passive logger) may share one id.
func (s *Stack) dispatch(f can.Frame) {
	if f.RTR {
		return
	}
	s.mu.RLock()
	for _, l := range s.links {
		if l.recvID == f.ID && l.extended == f.Extended {
			l.eng.Deliver(f.Data[:f.Len])
		}
	}
	s.mu.RUnlock()
}

// tick is the timing service: on a fixed period it asks every registered
// link's engine to perform time-based bookkeeping (timeouts, separation-time
// pacing), independent of frame arrival. Iterating under the read lock means
// a link being closed is never polled after removal: Link.Close blocks on
// the write lock until the sweep finishes.
func (s *Stack) tick() {
	defer s.wg.Done()
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.mu.RLock()
			for _, l := range s.links {
				l.eng.Poll()
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Stack) register(l *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.links = append(s.links, l)
	return nil
}

func (s *Stack) remove(l *Link) {
	s.mu.Lock()
	for i, x := range s.links {
		if x == l {
			s.links = append(s.links[:i], s.links[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}
