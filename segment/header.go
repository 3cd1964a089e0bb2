// Package segment implements the on-wire shared segment layout from spec
// §3/§4.2/§6: a fixed header (magic, version, creator pid, flags, handshake
// state, two ring descriptors, reserved words) followed by the s2c and c2s
// ring byte regions, in that fixed order.
package segment

import (
	"sync/atomic"
	"unsafe"

	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/ring"
)

// Header is a typed view over the first wire.HeaderSize bytes of a segment.
type Header struct {
	b []byte
}

func NewHeader(b []byte) Header {
	if len(b) < wire.HeaderSize {
		panic("segment: header slice too small")
	}
	return Header{b: b[:wire.HeaderSize]}
}

func (h Header) u32ptr(off int) *uint32 { return (*uint32)(unsafe.Pointer(&h.b[off])) }

func (h Header) Magic() uint32   { return atomic.LoadUint32(h.u32ptr(wire.OffMagic)) }
func (h Header) Version() uint32 { return atomic.LoadUint32(h.u32ptr(wire.OffVersion)) }
func (h Header) CreatorPID() uint32 {
	return atomic.LoadUint32(h.u32ptr(wire.OffCreatorPID))
}
func (h Header) Flags() uint32 { return atomic.LoadUint32(h.u32ptr(wire.OffFlags)) }

func (h Header) SetFlags(v uint32) { atomic.StoreUint32(h.u32ptr(wire.OffFlags), v) }

// Handshake returns the current handshake state word (spec §3, §4.4).
func (h Header) Handshake() uint32 { return atomic.LoadUint32(h.u32ptr(wire.OffHandshake)) }

// SetHandshake unconditionally stores the handshake state.
func (h Header) SetHandshake(v uint32) { atomic.StoreUint32(h.u32ptr(wire.OffHandshake), v) }

// CASHandshake performs the CAS the client-connect path needs (spec §4.4).
func (h Header) CASHandshake(old, new uint32) bool {
	return atomic.CompareAndSwapUint32(h.u32ptr(wire.OffHandshake), old, new)
}

// S2CDescriptor / C2SDescriptor expose the two ring descriptors embedded in
// the header (spec §6 byte table).
func (h Header) S2CDescriptor() ring.Descriptor {
	return ring.NewDescriptor(h.b[wire.OffS2CDesc : wire.OffS2CDesc+wire.DescSize])
}

func (h Header) C2SDescriptor() ring.Descriptor {
	return ring.NewDescriptor(h.b[wire.OffC2SDesc : wire.OffC2SDesc+wire.DescSize])
}

// Reserved returns the i-th reserved header word (spec §6: reserved[8],
// slot_id lives at wire.ReservedSlotIDIndex for the dispatch variant).
func (h Header) Reserved(i int) uint32 {
	off := wire.OffReserved + i*4
	return atomic.LoadUint32(h.u32ptr(off))
}

func (h Header) SetReserved(i int, v uint32) {
	off := wire.OffReserved + i*4
	atomic.StoreUint32(h.u32ptr(off), v)
}

// SlotID / SetSlotID are the dispatch-variant convenience accessors for
// reserved[RESERVED_SLOT_ID_INDEX].
func (h Header) SlotID() uint32        { return h.Reserved(wire.ReservedSlotIDIndex) }
func (h Header) SetSlotID(v uint32)    { h.SetReserved(wire.ReservedSlotIDIndex, v) }

// initialize stamps a freshly-created segment's header.
func (h Header) initialize(creatorPID uint32) {
	atomic.StoreUint32(h.u32ptr(wire.OffMagic), wire.SharedMagic)
	atomic.StoreUint32(h.u32ptr(wire.OffVersion), wire.SharedVersion)
	atomic.StoreUint32(h.u32ptr(wire.OffCreatorPID), creatorPID)
	atomic.StoreUint32(h.u32ptr(wire.OffFlags), 0)
	atomic.StoreUint32(h.u32ptr(wire.OffHandshake), wire.HandshakeIdle)
	for i := 0; i < wire.ReservedWords; i++ {
		h.SetReserved(i, 0)
	}
}
