//go:build linux

package can

import (
	"errors"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SocketCAN is a Device backed by a Linux raw CAN socket.
//
// A background goroutine reads frames from the socket and feeds the handler
// registered with Subscribe. The goroutine plays the role of the driver's
// receive context: the handler must not block it.
type SocketCAN struct {
	file *os.File

	mu      sync.Mutex
	handler func(Frame)
	closed  bool
}

// Filter is a kernel acceptance filter: a frame is accepted when
// (frame.ID & Mask) == (ID & Mask).
type Filter struct {
	ID   uint32
	Mask uint32
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g., "can0") and starts the receive loop.
func DialSocketCAN(iface string) (*SocketCAN, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	// Non-blocking so the runtime poller manages reads and Close unblocks them.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	s := &SocketCAN{file: os.NewFile(uintptr(fd), "socketcan:"+iface)}
	go s.readLoop()
	return s, nil
}

// SetFilters installs kernel acceptance filters on the socket. An empty slice
// removes filtering (all frames are delivered).
func (s *SocketCAN) SetFilters(filters []Filter) error {
	raw := make([]unix.CanFilter, len(filters))
	for i, f := range filters {
		raw[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
	}
	conn, err := s.file.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	cerr := conn.Control(func(fd uintptr) {
		serr = unix.SetsockoptCanRawFilter(int(fd), unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw)
	})
	if cerr != nil {
		return cerr
	}
	return serr
}

// Write transmits one frame using the Linux can_frame binary layout.
func (s *SocketCAN) Write(frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	n, err := s.file.Write(buf)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	if n != len(buf) {
		return errors.New("can: short write")
	}
	return nil
}

// Subscribe registers the receive handler.
func (s *SocketCAN) Subscribe(fn func(Frame)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// Close shuts down the socket and stops the receive loop.
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handler = nil
	s.mu.Unlock()
	return s.file.Close()
}

func (s *SocketCAN) readLoop() {
	buf := make([]byte, 16)
	for {
		n, err := s.file.Read(buf)
		if err != nil {
			return
		}
		if n != len(buf) {
			continue
		}
		var f Frame
		if err := f.UnmarshalBinary(buf); err != nil {
			continue
		}
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(f)
		}
	}
}
