// Package can provides core types for working with Controller Area Network
// (CAN) devices.
//
// It includes:
//   - A core Frame type with validation and binary marshaling helpers
//   - The Device contract used by higher-level protocols
//   - An in-memory loopback bus for tests and simulations
//   - A Linux SocketCAN driver (linux-only) via golang.org/x/sys/unix
package can
