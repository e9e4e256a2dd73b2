package isotp

import (
	"sync"
	"time"
)

// Completion conditions a signal can report.
const (
	sigSendDone uint8 = 1 << iota
	sigRecvDone
	sigError
)

// signal is a small event-flag primitive: a set of condition bits plus a
// blocking wait restricted to a mask of interest. It is the single mechanism
// the blocking facade uses to park on asynchronous engine completions.
//
// Waking consumes exactly the masked bits that fired; bits outside the mask
// stay set for whichever waiter they belong to.
type signal struct {
	mu   sync.Mutex
	bits uint8
	ch   chan struct{} // closed and replaced on every set (broadcast)
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// set raises bits and wakes all current waiters.
func (s *signal) set(bits uint8) {
	s.mu.Lock()
	s.bits |= bits
	close(s.ch)
	s.ch = make(chan struct{})
	s.mu.Unlock()
}

// clear drops any pending bits in mask without waking anyone.
func (s *signal) clear(mask uint8) {
	s.mu.Lock()
	s.bits &^= mask
	s.mu.Unlock()
}

// wait blocks until at least one bit in mask is set, then clears and returns
// the fired bits. A negative timeout waits forever. ok is false on timeout.
func (s *signal) wait(mask uint8, timeout time.Duration) (fired uint8, ok bool) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		s.mu.Lock()
		if got := s.bits & mask; got != 0 {
			s.bits &^= got
			s.mu.Unlock()
			return got, true
		}
		ch := s.ch
		s.mu.Unlock()

		select {
		case <-ch:
		case <-expired:
			return 0, false
		}
	}
}
