package can

import (
	"context"
	"log/slog"
	"testing"
)

type recordSink struct {
	records []slog.Record
}

func (s *recordSink) Enabled(context.Context, slog.Level) bool { return true }
func (s *recordSink) Handle(_ context.Context, r slog.Record) error {
	// Deep-copy attributes because slog reuses the record during processing.
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool { attrs = append(attrs, a); return true })
	nr := slog.Record{Time: r.Time, Level: r.Level, PC: r.PC, Message: r.Message}
	for _, a := range attrs {
		nr.AddAttrs(a)
	}
	s.records = append(s.records, nr)
	return nil
}
func (s *recordSink) WithAttrs(attrs []slog.Attr) slog.Handler { return s }
func (s *recordSink) WithGroup(name string) slog.Handler       { return s }

func hasSlogMsg(records []slog.Record, level slog.Level, msg string) bool {
	for _, r := range records {
		if r.Level == level && r.Message == msg {
			return true
		}
	}
	return false
}

func TestLoggedDevice_WriteAndReadLogging(t *testing.T) {
	lb := NewLoopbackBus()
	defer lb.Close()

	sink := &recordSink{}
	logger := slog.New(sink)

	// Wrap both endpoints to verify read and write logging independently.
	sender := NewLoggedDevice(lb.Open(), logger, slog.LevelInfo, LogWrite, nil)
	receiver := NewLoggedDevice(lb.Open(), logger, slog.LevelInfo, LogRead, nil)
	defer sender.Close()
	defer receiver.Close()

	var col frameCollector
	receiver.Subscribe(col.handle)

	frame := MustFrame(0x123, []byte{1, 2, 3})
	if err := sender.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(col.snapshot()) != 1 {
		t.Fatalf("expected frame delivery through logged device")
	}

	if !hasSlogMsg(sink.records, slog.LevelInfo, "can write") {
		t.Fatalf("expected write log entry")
	}
	if !hasSlogMsg(sink.records, slog.LevelInfo, "can read") {
		t.Fatalf("expected read log entry")
	}
}

func TestLoggedDevice_FilterAndErrorLogging(t *testing.T) {
	lb := NewLoopbackBus()
	sender := lb.Open()
	_ = sender.Close()

	sink := &recordSink{}
	logger := slog.New(sink)

	// Only 0x200 frames are logged; writes on a closed device log an error.
	wrapped := NewLoggedDevice(sender, logger, slog.LevelInfo, LogWrite, ByID(0x200))
	if err := wrapped.Write(MustFrame(0x100, []byte{1})); err == nil {
		t.Fatalf("expected write error on closed device")
	}
	if hasSlogMsg(sink.records, slog.LevelInfo, "can write") {
		t.Fatalf("filtered frame should not be logged")
	}
	if !hasSlogMsg(sink.records, slog.LevelError, "can write error") {
		t.Fatalf("expected write error log entry")
	}
}
