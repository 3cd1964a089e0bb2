package segment

import (
	"errors"
	"testing"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/internal/wire"
)

func TestCreateThenOpenValidatesMagicAndVersion(t *testing.T) {
	opener := NewMemOpener()
	opts := Options{RingCapacity: 4096, MaxMessages: 16}
	size := Size(opts.resolveRingCapacity())

	backing, err := opener.Create("chan-a", size)
	if err != nil {
		t.Fatalf("Create backing: %v", err)
	}
	seg, err := Create(backing, opts)
	if err != nil {
		t.Fatalf("Create segment: %v", err)
	}
	if seg.Header().Magic() != wire.SharedMagic {
		t.Fatalf("magic not stamped")
	}
	if seg.Header().Handshake() != wire.HandshakeIdle {
		t.Fatalf("expected fresh segment to start IDLE")
	}

	openBacking, err := opener.Open("chan-a", size)
	if err != nil {
		t.Fatalf("Open backing: %v", err)
	}
	opened, err := Open(openBacking, opts)
	if err != nil {
		t.Fatalf("Open segment: %v", err)
	}
	if opened.Header().Magic() != wire.SharedMagic || opened.Header().Version() != wire.SharedVersion {
		t.Fatalf("opened segment header mismatch")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	opener := NewMemOpener()
	size := Size(wire.RingCapacity)
	backing, err := opener.Create("chan-b", size)
	if err != nil {
		t.Fatalf("Create backing: %v", err)
	}
	// Corrupt the magic directly, as if a stale/foreign segment were opened.
	buf := backing.Bytes()
	for i := 0; i < 4; i++ {
		buf[i] = 0xFF
	}

	_, err = Open(backing, Options{})
	var xerr *xshm.Error
	if !errors.As(err, &xerr) || xerr.Code != xshm.ErrCodeProtocol {
		t.Fatalf("expected ErrCodeProtocol, got %v", err)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	opener := NewMemOpener()
	size := Size(wire.RingCapacity)
	if _, err := opener.Create("dup", size); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := opener.Create("dup", size)
	var xerr *xshm.Error
	if !errors.As(err, &xerr) || xerr.Code != xshm.ErrCodeExists {
		t.Fatalf("expected ErrCodeExists, got %v", err)
	}
}

func TestS2CAndC2SAreIndependentRings(t *testing.T) {
	opener := NewMemOpener()
	opts := Options{RingCapacity: 4096, MaxMessages: 16}
	size := Size(opts.resolveRingCapacity())
	backing, _ := opener.Create("chan-c", size)
	seg, err := Create(backing, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := seg.S2C().TryWrite([]byte{1, 2, 3}); err != nil {
		t.Fatalf("s2c write: %v", err)
	}
	dst := make([]byte, wire.MaxMessageSize)
	if _, _, err := seg.C2S().TryRead(dst); err == nil {
		t.Fatalf("c2s should still be empty after an s2c-only write")
	}
}
