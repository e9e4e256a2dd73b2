package can

import (
	"context"
	"log/slog"
)

// LogOption is a bitmask for selecting which directions to log.
type LogOption uint8

const (
	LogNone LogOption = 0
	LogRead LogOption = 1 << iota
	LogWrite
	LogAll = LogRead | LogWrite
)

// NewLoggedDevice wraps the given Device and logs selected directions at the
// given level using a slog.Logger. If filter is non-nil, only frames that
// satisfy it are logged; errors are always logged for enabled directions.
//
// Receive logging runs inside the driver's receive context, so the logger's
// handler should be non-blocking when wrapping a live device.
func NewLoggedDevice(inner Device, logger *slog.Logger, level slog.Level, opts LogOption, filter FrameFilter) Device {
	return &loggedDevice{
		inner:  inner,
		logger: logger,
		level:  level,
		opts:   opts,
		filter: filter,
	}
}

type loggedDevice struct {
	inner  Device
	logger *slog.Logger
	level  slog.Level
	opts   LogOption
	filter FrameFilter
}

// Write logs the frame and the result when write logging is enabled.
func (l *loggedDevice) Write(frame Frame) error {
	if l.opts&LogWrite != 0 && (l.filter == nil || l.filter(frame)) {
		l.logFrame("can write", frame)
	}
	err := l.inner.Write(frame)
	if l.opts&LogWrite != 0 && err != nil {
		l.logger.Log(context.Background(), slog.LevelError, "can write error",
			"id", frame.ID,
			"error", err,
		)
	}
	return err
}

// Subscribe interposes a logging handler in front of fn.
func (l *loggedDevice) Subscribe(fn func(Frame)) {
	if fn == nil || l.opts&LogRead == 0 {
		l.inner.Subscribe(fn)
		return
	}
	l.inner.Subscribe(func(f Frame) {
		if l.filter == nil || l.filter(f) {
			l.logFrame("can read", f)
		}
		fn(f)
	})
}

// Close forwards to the inner Device without logging.
func (l *loggedDevice) Close() error {
	return l.inner.Close()
}

func (l *loggedDevice) logFrame(msg string, f Frame) {
	l.logger.Log(context.Background(), l.level, msg,
		"id", f.ID,
		"extended", f.Extended,
		"rtr", f.RTR,
		"len", int(f.Len),
		"data", f.Data[:f.Len],
		"string", f.String(),
	)
}
