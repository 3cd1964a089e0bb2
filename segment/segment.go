package segment

import (
	"fmt"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/ring"
)

// Flag bits stored in the header's flags word (spec §4.6 disconnect
// detection point (b): "the segment's flag word being cleared by the peer
// on close").
const (
	FlagConnected uint32 = 1 << 0
)

// Backing is the memory a Segment is mapped over: a single contiguous
// region at least Size(ringCapacity) bytes long, shared between the
// processes that hold a Segment for the same name. Spec §1 treats the
// OS-specific mechanism that provides this capability (named shared memory
// sections) as an external collaborator; Backing is exactly that capability
// boundary. See backing_mem.go and backing_file.go for the two concrete
// implementations this module ships.
type Backing interface {
	// Bytes returns the whole mapped region.
	Bytes() []byte
	// Close releases this process's mapping. It does not destroy the
	// segment for other mappers.
	Close() error
}

// Opener creates or opens a Backing of exactly size bytes for the given
// segment name. Swappable so tests can run without touching the filesystem.
type Opener interface {
	Create(name string, size int) (Backing, error)
	Open(name string, size int) (Backing, error)
}

// Size returns the exact byte size of a segment with the given per-ring
// byte capacity: header + two rings.
func Size(ringCapacity uint32) int {
	return wire.HeaderSize + 2*int(ringCapacity)
}

// Segment is a mapped shared segment: the header plus its two rings.
type Segment struct {
	backing     Backing
	header      Header
	s2c         *ring.Ring
	c2s         *ring.Ring
	ringCap     uint32
	maxMessages uint32
}

// Options configures segment creation/open. RingCapacity zero selects
// wire.RingCapacity. BufferBytes is the endpoint config's buffer_bytes hint
// (spec §4.2, §9): zero leaves the ring capacity as is; a non-zero value
// smaller than it, and a power of two, becomes the ring capacity.
//
// The header records neither the ring capacity nor MaxMessages, so Open
// takes both from opts, exactly as Create does; both endpoints must pass the
// same values. Open shrinks the ring capacity only when the backing is too
// small for it.
type Options struct {
	RingCapacity uint32
	MaxMessages  uint32
	BufferBytes  uint32
	CreatorPID   uint32
}

// resolveRingCapacity applies the buffer_bytes advisory-clamp rule (spec
// §4.2, §9's Open Question: "buffer_bytes is ignored in several source
// variants; define it as advisory with clamp to RING_CAPACITY").
func (o Options) resolveRingCapacity() uint32 {
	base := o.RingCapacity
	if base == 0 {
		base = wire.RingCapacity
	}
	cap := base
	if o.BufferBytes != 0 && o.BufferBytes < cap {
		cap = o.BufferBytes
	}
	// Must stay a power of two; if the hint breaks that, ignore it.
	if cap&(cap-1) != 0 {
		cap = base
	}
	if cap == 0 || cap&(cap-1) != 0 {
		cap = wire.RingCapacity
	}
	return cap
}

// Create lays out a brand new segment on backing: stamps
// magic/version/creator_pid, clears the flags and reserved words, and sets
// handshake = IDLE. The ring descriptors are not written; a freshly created
// backing holds them as zero.
func Create(backing Backing, opts Options) (*Segment, error) {
	ringCap := opts.resolveRingCapacity()
	maxMessages := opts.MaxMessages
	if maxMessages == 0 {
		maxMessages = wire.MaxMessagesDispatch
	}

	want := Size(ringCap)
	buf := backing.Bytes()
	if len(buf) < want {
		return nil, xshm.NewError(xshm.ErrCodeMemory, "segment.Create",
			fmt.Errorf("backing too small: have %d want %d", len(buf), want))
	}

	h := NewHeader(buf[:wire.HeaderSize])
	h.initialize(opts.CreatorPID)

	return newSegment(backing, h, ringCap, maxMessages), nil
}

// Open maps an existing segment and validates its magic/version (spec
// §4.2: mismatch fails with a protocol error).
func Open(backing Backing, opts Options) (*Segment, error) {
	buf := backing.Bytes()
	if len(buf) < wire.HeaderSize {
		return nil, xshm.NewError(xshm.ErrCodeProtocol, "segment.Open",
			fmt.Errorf("backing too small for a header: have %d", len(buf)))
	}
	h := NewHeader(buf[:wire.HeaderSize])

	if h.Magic() != wire.SharedMagic {
		return nil, xshm.NewError(xshm.ErrCodeProtocol, "segment.Open",
			fmt.Errorf("magic mismatch: got %d want %d", h.Magic(), wire.SharedMagic))
	}
	if h.Version() != wire.SharedVersion {
		return nil, xshm.NewError(xshm.ErrCodeProtocol, "segment.Open",
			fmt.Errorf("version mismatch: got %d want %d", h.Version(), wire.SharedVersion))
	}

	ringCap := opts.resolveRingCapacity()
	if Size(ringCap) > len(buf) {
		ringCap = uint32(len(buf)-wire.HeaderSize) / 2
	}
	maxMessages := opts.MaxMessages
	if maxMessages == 0 {
		maxMessages = wire.MaxMessagesDispatch
	}

	return newSegment(backing, h, ringCap, maxMessages), nil
}

func newSegment(backing Backing, h Header, ringCap, maxMessages uint32) *Segment {
	buf := backing.Bytes()
	s2cData := buf[wire.HeaderSize : wire.HeaderSize+int(ringCap)]
	c2sData := buf[wire.HeaderSize+int(ringCap) : wire.HeaderSize+2*int(ringCap)]

	return &Segment{
		backing:     backing,
		header:      h,
		s2c:         ring.New(h.S2CDescriptor(), s2cData, maxMessages),
		c2s:         ring.New(h.C2SDescriptor(), c2sData, maxMessages),
		ringCap:     ringCap,
		maxMessages: maxMessages,
	}
}

func (s *Segment) Header() Header       { return s.header }
func (s *Segment) S2C() *ring.Ring      { return s.s2c }
func (s *Segment) C2S() *ring.Ring      { return s.c2s }
func (s *Segment) RingCapacity() uint32 { return s.ringCap }
func (s *Segment) MaxMessages() uint32  { return s.maxMessages }

// Close releases this process's mapping.
func (s *Segment) Close() error { return s.backing.Close() }
