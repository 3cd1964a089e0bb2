package ring

import (
	"errors"
	"testing"

	"github.com/Platon7788/xshm/internal/wire"
)

func newTestRing(capacity, maxMessages uint32) *Ring {
	desc := NewDescriptor(make([]byte, wire.DescSize))
	data := make([]byte, capacity)
	return New(desc, data, maxMessages)
}

func TestRingBasicWriteRead(t *testing.T) {
	r := newTestRing(4096, 16)

	payload := []byte{0xAA, 0xBB, 0xCC}
	out, err := r.TryWrite(payload)
	if err != nil {
		t.Fatalf("TryWrite: %v", err)
	}
	if !out.SignalData {
		t.Errorf("expected SignalData on 0->1 transition")
	}

	dst := make([]byte, wire.MaxMessageSize)
	n, _, err := r.TryRead(dst)
	if err != nil {
		t.Fatalf("TryRead: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}
	for i := range payload {
		if dst[i] != payload[i] {
			t.Fatalf("byte %d: expected %x got %x", i, payload[i], dst[i])
		}
	}
}

func TestRingEmpty(t *testing.T) {
	r := newTestRing(4096, 16)
	dst := make([]byte, wire.MaxMessageSize)
	_, _, err := r.TryRead(dst)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

// TestRingSaturatesAtMaxMessages is scenario 2 from spec §8: MAX_MESSAGES
// 16-byte frames fill the ring without reads; the next send is rejected and
// dropped_count becomes 1.
func TestRingSaturatesAtMaxMessages(t *testing.T) {
	const maxMessages = 250
	r := newTestRing(1<<20, maxMessages)

	payload := make([]byte, 16)
	for i := 0; i < maxMessages; i++ {
		if _, err := r.TryWrite(payload); err != nil {
			t.Fatalf("write %d: unexpected error %v", i, err)
		}
	}

	_, err := r.TryWrite(payload)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull on message %d, got %v", maxMessages, err)
	}
	if got := r.desc.DroppedCount(); got != 1 {
		t.Fatalf("expected dropped_count == 1, got %d", got)
	}
	if got := r.desc.MessageCount(); got != maxMessages {
		t.Fatalf("expected message_count == %d, got %d", maxMessages, got)
	}
}

// TestRingRejectsOversizedFrame is scenario 3 from spec §8.
func TestRingRejectsOversizedFrame(t *testing.T) {
	r := newTestRing(1<<20, 250)

	before := r.desc.DroppedCount()
	beforeWrite := r.desc.WriteIndex()

	payload := make([]byte, wire.MaxMessageSize+1)
	_, err := r.TryWrite(payload)
	if !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("expected ErrInvalidParam, got %v", err)
	}
	if r.desc.DroppedCount() != before {
		t.Fatalf("dropped_count must be unchanged on invalid-param rejection")
	}
	if r.desc.WriteIndex() != beforeWrite {
		t.Fatalf("write_index must be unchanged on invalid-param rejection")
	}
}

func TestRingRejectsZeroLength(t *testing.T) {
	r := newTestRing(4096, 16)
	if _, err := r.TryWrite(nil); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("expected ErrInvalidParam for empty payload, got %v", err)
	}
}

// TestRingWrap is scenario 6 from spec §8: fill to within header+1 bytes of
// the ring's end, then write a 100-byte frame; the writer must emit a wrap
// sentinel and place the frame at offset 0, and the reader must recover it.
func TestRingWrap(t *testing.T) {
	const capacity = 256
	r := newTestRing(capacity, 250)

	// Consume exactly capacity - (header + 1) bytes of space by writing one
	// frame sized to land the write cursor there, then draining it so
	// write_index is advanced but read_index catches up (leaving space free
	// but the write cursor near the ring boundary).
	fillLen := int(capacity) - int(wire.MessageHeaderSize) - int(wire.MessageHeaderSize) - 1
	if _, err := r.TryWrite(make([]byte, fillLen)); err != nil {
		t.Fatalf("fill write: %v", err)
	}
	dst := make([]byte, wire.MaxMessageSize)
	if _, _, err := r.TryRead(dst); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// write_index now sits at header+fillLen, leaving capacity-(header+fillLen)
	// contiguous bytes before the boundary, which is header+1 (too small for
	// the upcoming 100-byte frame): the next write must wrap.
	wantOffset := r.desc.WriteIndex() & r.mask
	remaining := capacity - wantOffset
	if remaining >= wire.MessageHeaderSize+100 {
		t.Fatalf("test setup error: remaining=%d should be too small for a wrap", remaining)
	}

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	out, err := r.TryWrite(payload)
	if err != nil {
		t.Fatalf("wrap write: %v", err)
	}
	if !out.SignalData {
		t.Fatalf("expected SignalData on the wrapped write (0->1 transition)")
	}

	n, _, err := r.TryRead(dst)
	if err != nil {
		t.Fatalf("wrap read: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes, got %d", len(payload), n)
	}
	for i := range payload {
		if dst[i] != payload[i] {
			t.Fatalf("byte %d mismatch: want %x got %x", i, payload[i], dst[i])
		}
	}
}

func TestRingFreeSpaceRejectsWhenPaddingWouldOverflow(t *testing.T) {
	const capacity = 64
	r := newTestRing(capacity, 250)

	// Push write_index close to the boundary without draining, so free bytes
	// are too small to afford both the wrap padding and the new frame.
	if _, err := r.TryWrite(make([]byte, capacity-wire.MessageHeaderSize-4)); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	before := r.desc.DroppedCount()
	if _, err := r.TryWrite(make([]byte, 40)); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if r.desc.DroppedCount() != before+1 {
		t.Fatalf("expected dropped_count to increment on Full rejection")
	}
}
