package segment

import (
	"fmt"
	"sync"

	"github.com/Platon7788/xshm"
)

// MemOpener backs segments with plain Go byte slices kept in a process-wide
// registry, keyed by name. Two Segments opened from the same process with
// the same name and Opener share the underlying array, which is enough to
// exercise the whole protocol (handshake, framing, events) in-process —
// this is the Opener used by this module's own tests and by cmd/bench.
// It cannot back a real cross-process channel; use FileOpener for that.
type MemOpener struct {
	mu       sync.Mutex
	segments map[string][]byte
}

// NewMemOpener returns an in-process Opener. Each call returns an
// independent registry, so tests don't leak segments across each other.
// The concrete type is returned (rather than the Opener interface) so
// callers can reach Destroy.
func NewMemOpener() *MemOpener {
	return &MemOpener{segments: make(map[string][]byte)}
}

type memBacking struct {
	name   string
	opener *MemOpener
	buf    []byte
}

func (b *memBacking) Bytes() []byte { return b.buf }
func (b *memBacking) Close() error  { return nil }

func (o *MemOpener) Create(name string, size int) (Backing, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.segments[name]; exists {
		return nil, xshm.NewError(xshm.ErrCodeExists, "MemOpener.Create",
			fmt.Errorf("segment %q already exists", name))
	}
	buf := make([]byte, size)
	o.segments[name] = buf
	return &memBacking{name: name, opener: o, buf: buf}, nil
}

func (o *MemOpener) Open(name string, size int) (Backing, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf, ok := o.segments[name]
	if !ok {
		return nil, xshm.NewError(xshm.ErrCodeNotFound, "MemOpener.Open",
			fmt.Errorf("segment %q not found", name))
	}
	if len(buf) < size {
		return nil, xshm.NewError(xshm.ErrCodeProtocol, "MemOpener.Open",
			fmt.Errorf("segment %q too small: have %d want %d", name, len(buf), size))
	}
	return &memBacking{name: name, opener: o, buf: buf[:size]}, nil
}

// Destroy removes a segment from the registry, simulating the "destroyed
// when the last mapping is released" lifecycle rule from spec §3 for tests
// that need to recreate a segment under the same name.
func (o *MemOpener) Destroy(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.segments, name)
}
