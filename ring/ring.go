// Package ring implements the fixed-capacity, power-of-two, single-producer/
// single-consumer byte ring described in spec §4.1: a 4-byte length header
// followed by payload bytes, frames that never straddle the end of the ring
// (the writer pads to the start with a zero-length wrap sentinel when the
// remaining contiguous span can't hold the frame), and four free-running
// 32-bit counters shared with the consumer through the segment's memory.
//
// The producer/consumer role is fixed by the caller: a Ring never has two
// writers or two readers. Every counter access goes through sync/atomic so
// the two sides, which may be different OS processes mapping the same
// memory, observe a consistent view without a lock.
package ring

import (
	"sync/atomic"
	"unsafe"

	"github.com/Platon7788/xshm/internal/wire"
)

// Descriptor is the 16-byte (write_index, read_index, message_count,
// dropped_count) block from spec §6's ring descriptor layout. It is a view
// over someone else's memory (the segment header) — Ring never allocates it.
type Descriptor struct {
	b []byte
}

// NewDescriptor wraps a 16-byte slice as a ring descriptor.
func NewDescriptor(b []byte) Descriptor {
	if len(b) < wire.DescSize {
		panic("ring: descriptor slice too small")
	}
	return Descriptor{b: b[:wire.DescSize]}
}

func (d Descriptor) ptr(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&d.b[off]))
}

func (d Descriptor) WriteIndex() uint32   { return atomic.LoadUint32(d.ptr(wire.DescWriteIndex)) }
func (d Descriptor) ReadIndex() uint32    { return atomic.LoadUint32(d.ptr(wire.DescReadIndex)) }
func (d Descriptor) MessageCount() uint32 { return atomic.LoadUint32(d.ptr(wire.DescMessageCount)) }
func (d Descriptor) DroppedCount() uint32 { return atomic.LoadUint32(d.ptr(wire.DescDroppedCount)) }

// Ring is a fixed-capacity SPSC byte ring over a caller-supplied descriptor
// and data region (both views into shared memory).
type Ring struct {
	desc        Descriptor
	data        []byte
	capacity    uint32
	mask        uint32
	maxMessages uint32
}

// New builds a Ring over desc (16 bytes) and data (capacity bytes, a power
// of two). maxMessages is the channel-creation-time bound on in-flight
// frames (spec §9: 250 vs 500 is a creation parameter, not a hard constant).
func New(desc Descriptor, data []byte, maxMessages uint32) *Ring {
	capacity := uint32(len(data))
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a non-zero power of two")
	}
	return &Ring{
		desc:        desc,
		data:        data,
		capacity:    capacity,
		mask:        capacity - 1,
		maxMessages: maxMessages,
	}
}

// Capacity returns the ring's byte capacity.
func (r *Ring) Capacity() uint32 { return r.capacity }

// Descriptor exposes the underlying counters read-only (for pollers that
// need to decide whether to signal/wait without mutating state).
func (r *Ring) Descriptor() Descriptor { return r.desc }

// WriteOutcome reports the side effects of a TryWrite the caller needs to
// turn into event signaling (spec §4.3's producer rule): the channel layer
// owns events, not the ring, so this is how intent crosses the boundary.
type WriteOutcome struct {
	// SignalData is true when the ring went from empty to non-empty: the
	// consumer may be blocked waiting for data and should be woken.
	SignalData bool
}

// ReadOutcome reports the side effects of a TryRead (spec §4.3's consumer
// rule): whether a previously-full (or near-full) ring now has room, so the
// producer, which may be blocked on backpressure, should be woken.
type ReadOutcome struct {
	SignalSpace bool
}

func freeBytes(writeIdx, readIdx, capacity uint32) uint32 {
	used := writeIdx - readIdx // wraps correctly as unsigned arithmetic mod 2^32
	return capacity - used
}

// minFrame is the smallest frame that could ever be admitted: header + 1 byte.
func minFrame() uint32 { return wire.MessageHeaderSize + 1 }

// TryWrite attempts to enqueue payload. It never blocks.
//
// Returns ErrInvalidParam if len(payload) is outside [1, MaxMessageSize].
// Returns ErrFull (incrementing dropped_count) if the ring can't currently
// admit the frame, either because message_count is saturated or because
// there isn't room for header+payload plus worst-case wrap padding.
func (r *Ring) TryWrite(payload []byte) (WriteOutcome, error) {
	n := uint32(len(payload))
	if n < 1 || n > wire.MaxMessageSize {
		return WriteOutcome{}, ErrInvalidParam
	}

	msgCount := atomic.LoadUint32(r.desc.ptr(wire.DescMessageCount))
	if msgCount >= r.maxMessages {
		atomic.AddUint32(r.desc.ptr(wire.DescDroppedCount), 1)
		return WriteOutcome{}, ErrFull
	}

	writeIdx := atomic.LoadUint32(r.desc.ptr(wire.DescWriteIndex))
	readIdx := atomic.LoadUint32(r.desc.ptr(wire.DescReadIndex))
	free := freeBytes(writeIdx, readIdx, r.capacity)

	offset := writeIdx & r.mask
	contiguous := r.capacity - offset
	frameLen := wire.MessageHeaderSize + n

	var padding uint32
	wrap := contiguous < frameLen
	if wrap {
		padding = contiguous
	}

	needed := padding + frameLen
	if free < needed {
		atomic.AddUint32(r.desc.ptr(wire.DescDroppedCount), 1)
		return WriteOutcome{}, ErrFull
	}

	writeAt := writeIdx
	if wrap {
		if contiguous >= wire.MessageHeaderSize {
			wire.EncodeFrameHeader(r.data[offset:offset+wire.MessageHeaderSize], wire.RingMessageWrapSentinel)
		}
		writeAt = writeIdx + padding // now aligned to the ring boundary
	}

	at := writeAt & r.mask
	wire.EncodeFrameHeader(r.data[at:at+wire.MessageHeaderSize], n)
	copy(r.data[at+wire.MessageHeaderSize:], payload)

	newWriteIdx := writeAt + frameLen
	atomic.StoreUint32(r.desc.ptr(wire.DescWriteIndex), newWriteIdx) // release: payload visible before index advances
	newCount := atomic.AddUint32(r.desc.ptr(wire.DescMessageCount), 1)

	return WriteOutcome{SignalData: newCount == 1}, nil
}

// TryRead attempts to dequeue one frame into dst, which must be sized to at
// least MaxMessageSize. It never blocks.
func (r *Ring) TryRead(dst []byte) (int, ReadOutcome, error) {
	writeIdx := atomic.LoadUint32(r.desc.ptr(wire.DescWriteIndex))
	readIdx := atomic.LoadUint32(r.desc.ptr(wire.DescReadIndex))
	msgCount := atomic.LoadUint32(r.desc.ptr(wire.DescMessageCount))

	if writeIdx == readIdx || msgCount == 0 {
		return 0, ReadOutcome{}, ErrEmpty
	}

	free := freeBytes(writeIdx, readIdx, r.capacity)
	wasNearFull := msgCount >= r.maxMessages || free < minFrame()

	offset := readIdx & r.mask
	contiguous := r.capacity - offset

	if contiguous < wire.MessageHeaderSize {
		// Not even a header fits before the boundary: skip straight to it,
		// mirroring the producer's wrap decision. No bytes are consumed.
		atomic.StoreUint32(r.desc.ptr(wire.DescReadIndex), readIdx+contiguous)
		return r.TryRead(dst)
	}

	length := atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[offset]))) // acquire: pairs with the writer's release store
	if length == wire.RingMessageWrapSentinel {
		atomic.StoreUint32(r.desc.ptr(wire.DescReadIndex), readIdx+contiguous)
		return r.TryRead(dst)
	}

	if length < wire.MinMessageSize || length > wire.MaxMessageSize {
		return 0, ReadOutcome{}, ErrCorrupt
	}
	if uint32(len(dst)) < length {
		return 0, ReadOutcome{}, ErrInvalidParam
	}

	payloadStart := offset + wire.MessageHeaderSize
	n := copy(dst, r.data[payloadStart:payloadStart+length])

	atomic.StoreUint32(r.desc.ptr(wire.DescReadIndex), readIdx+wire.MessageHeaderSize+length)
	atomic.AddUint32(r.desc.ptr(wire.DescMessageCount), ^uint32(0)) // -1

	return n, ReadOutcome{SignalSpace: wasNearFull}, nil
}
