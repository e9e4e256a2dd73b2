package can

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

func TestFrame_Validate_Marshal_Unmarshal_String(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
		wantStr string
		wantErr error
	}{
		{
			name:    "standard frame with data",
			frame:   MustFrame(0x123, []byte{0xDE, 0xAD}),
			wantStr: "123 [2] DE AD",
			wantErr: nil,
		},
		{
			name:    "extended RTR, zero length",
			frame:   Frame{ID: 0x1ABCDEFF, Extended: true, RTR: true, Len: 0},
			wantStr: "1ABCDEFF [0] RTR",
			wantErr: nil,
		},
	}

	for _, tc := range cases {
		if got := tc.frame.Validate(); got != tc.wantErr {
			t.Fatalf("%s: Validate() error = %v, want %v", tc.name, got, tc.wantErr)
		}
		b, err := tc.frame.MarshalBinary()
		if err != nil {
			t.Fatalf("%s: MarshalBinary() error = %v", tc.name, err)
		}
		var g Frame
		if err := g.UnmarshalBinary(b); err != nil {
			t.Fatalf("%s: UnmarshalBinary() error = %v", tc.name, err)
		}
		if g != tc.frame {
			t.Fatalf("%s: roundtrip mismatch: got %+v want %+v", tc.name, g, tc.frame)
		}
		if got := g.String(); got != tc.wantStr {
			t.Fatalf("%s: String() = %q, want %q", tc.name, got, tc.wantStr)
		}
	}

	// Invalid cases
	{
		f := Frame{ID: 0x800, Len: 0} // standard, out of range
		if err := f.Validate(); err == nil {
			t.Fatalf("expected invalid standard ID")
		}
	}
	{
		f := Frame{ID: 0x20000000, Extended: true} // extended, out of range
		if err := f.Validate(); err == nil {
			t.Fatalf("expected invalid extended ID")
		}
	}
	{
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("MustFrame should panic for len>8")
			}
		}()
		_ = MustFrame(0x123, make([]byte, 9))
	}
}

// frameCollector is a Subscribe handler that records delivered frames.
type frameCollector struct {
	mu     sync.Mutex
	frames []Frame
}

func (c *frameCollector) handle(f Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *frameCollector) snapshot() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func TestLoopbackBus_WriteDeliversToOtherEndpoints(t *testing.T) {
	bus := NewLoopbackBus()
	defer bus.Close()

	a := bus.Open()
	b := bus.Open()
	c := bus.Open()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	var colB, colC frameCollector
	b.Subscribe(colB.handle)
	c.Subscribe(colC.handle)

	send := MustFrame(0x321, []byte("hello"))
	if err := a.Write(send); err != nil {
		t.Fatalf("write: %v", err)
	}

	for name, col := range map[string]*frameCollector{"b": &colB, "c": &colC} {
		got := col.snapshot()
		if len(got) != 1 {
			t.Fatalf("%s: got %d frames, want 1", name, len(got))
		}
		if got[0].ID != send.ID || got[0].Len != send.Len || !bytes.Equal(got[0].Data[:got[0].Len], send.Data[:send.Len]) {
			t.Fatalf("%s mismatch: got %+v want %+v", name, got[0], send)
		}
	}

	// Writer must not hear its own frame.
	var colA frameCollector
	a.Subscribe(colA.handle)
	if err := a.Write(send); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(colA.snapshot()) != 0 {
		t.Fatalf("sender should not receive its own frame")
	}
}

func TestLoopbackBus_CloseBehavior(t *testing.T) {
	bus := NewLoopbackBus()
	a := bus.Open()
	b := bus.Open()

	// Closed endpoint errors on Write and no longer receives.
	var colA frameCollector
	a.Subscribe(colA.handle)
	_ = a.Close()
	if err := a.Write(MustFrame(0x1, nil)); err == nil {
		t.Fatalf("closed endpoint should error on Write")
	}
	if err := b.Write(MustFrame(0x2, nil)); err != nil {
		t.Fatalf("write from live endpoint: %v", err)
	}
	if len(colA.snapshot()) != 0 {
		t.Fatalf("closed endpoint should not receive")
	}

	// Closed bus errors on Write from any endpoint.
	_ = bus.Close()
	if err := b.Write(MustFrame(0x1, nil)); err == nil {
		t.Fatalf("endpoint should error on Write after bus close")
	}
}

func TestFilters_Basics(t *testing.T) {
	f1 := MustFrame(0x100, []byte{1})
	f2 := MustFrame(0x101, []byte{2})

	if !ByID(0x100)(f1) || ByID(0x100)(f2) {
		t.Fatalf("ByID failure")
	}
	if !(ByIDs(0x100, 0x102)(f1)) || ByIDs(0x100, 0x102)(f2) {
		t.Fatalf("ByIDs failure")
	}
	// A mask covering all 11 std bits distinguishes 0x100 from 0x101.
	if !ByMask(0x100, 0x7FF)(f1) || ByMask(0x100, 0x7FF)(f2) {
		t.Fatalf("ByMask failure")
	}
	rtr := f1
	rtr.RTR = true
	if !DataOnly()(f1) || DataOnly()(rtr) {
		t.Fatalf("DataOnly failure")
	}
	if !And(ByID(0x100), DataOnly())(f1) || And(ByID(0x100), DataOnly())(rtr) {
		t.Fatalf("And failure")
	}
	if !Or(ByID(0x100), ByID(0x999))(f1) || Or(ByID(0x999), ByID(0x998))(f1) {
		t.Fatalf("Or failure")
	}
	if Not(ByID(0x100))(f1) || !Not(ByID(0x999))(f1) {
		t.Fatalf("Not failure")
	}
}

func ExampleLoopbackBus() {
	bus := NewLoopbackBus()
	a := bus.Open()
	b := bus.Open()
	defer a.Close()
	defer b.Close()

	got := make(chan Frame, 1)
	b.Subscribe(func(f Frame) { got <- f })
	_ = a.Write(MustFrame(0x123, []byte("hi")))
	f := <-got
	fmt.Printf("ID=%03X LEN=%d DATA=%x\n", f.ID, f.Len, f.Data[:f.Len])
	// Output: ID=123 LEN=2 DATA=6869
}
