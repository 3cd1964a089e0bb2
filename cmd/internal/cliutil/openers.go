package cliutil

import (
	"fmt"

	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/segment"
)

// Openers resolves the configured backing into a concrete segment.Opener /
// event.Opener pair. "mem" is the in-process MemOpener, suitable for demos
// and a single binary talking to itself over two goroutines; "file" mmaps
// real files under cfg.BackingDir, the cross-process path.
func Openers(cfg *Config) (segment.Opener, event.Opener, error) {
	switch cfg.Backing {
	case "", "file":
		segOpener, err := segment.NewFileOpener(cfg.BackingDir)
		if err != nil {
			return nil, nil, fmt.Errorf("segment.NewFileOpener: %w", err)
		}
		evtOpener, err := event.NewFileOpener(cfg.BackingDir)
		if err != nil {
			return nil, nil, fmt.Errorf("event.NewFileOpener: %w", err)
		}
		return segOpener, evtOpener, nil
	case "mem":
		return segment.NewMemOpener(), event.NewMemOpener(), nil
	default:
		return nil, nil, fmt.Errorf("unknown backing %q: want \"file\" or \"mem\"", cfg.Backing)
	}
}

// ClampedBufferBytes returns cfg.BufferBytes clamped to cfg.RingCapacity,
// per spec §9's "buffer_bytes is advisory, clamped to RING_CAPACITY".
func ClampedBufferBytes(cfg *Config) uint32 {
	if uint64(cfg.BufferBytes) > uint64(cfg.RingCapacity) {
		return uint32(cfg.RingCapacity)
	}
	return uint32(cfg.BufferBytes)
}
