package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/Platon7788/xshm"
)

// MemOpener creates in-process, channel-backed events kept in a process-wide
// registry keyed by name, mirroring segment.MemOpener. Two Sets opened from
// the same process with the same channel name and Opener share the
// underlying chanEvent, which is enough to exercise handshake/channel/lobby
// logic in a single test binary without any real OS synchronization object.
type MemOpener struct {
	mu     sync.Mutex
	events map[string]*chanEvent
}

// NewMemOpener returns an in-process Opener with its own registry.
func NewMemOpener() *MemOpener {
	return &MemOpener{events: make(map[string]*chanEvent)}
}

// chanEvent is an auto-reset event backed by a capacity-1 buffered channel:
// Signal is a non-blocking send, Wait is a select against the channel and a
// timer. A refcount tracks outstanding handles so Close only tears down the
// shared channel once every opener of this name has released it.
type chanEvent struct {
	mu     sync.Mutex
	opener *MemOpener
	name   string
	ch     chan struct{}
	refs   int
}

func (o *MemOpener) Create(name string) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.events[name]; exists {
		return nil, xshm.NewError(xshm.ErrCodeExists, "event.MemOpener.Create",
			fmt.Errorf("event %q already exists", name))
	}
	e := &chanEvent{opener: o, name: name, ch: make(chan struct{}, 1), refs: 1}
	o.events[name] = e
	return e, nil
}

func (o *MemOpener) Open(name string) (Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.events[name]
	if !ok {
		return nil, xshm.NewError(xshm.ErrCodeNotFound, "event.MemOpener.Open",
			fmt.Errorf("event %q not found", name))
	}
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
	return e, nil
}

func (e *chanEvent) Signal() error {
	select {
	case e.ch <- struct{}{}:
	default:
	}
	return nil
}

func (e *chanEvent) Wait(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		select {
		case <-e.ch:
			return true, nil
		default:
			return false, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.ch:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (e *chanEvent) Close() error {
	e.mu.Lock()
	e.refs--
	last := e.refs <= 0
	e.mu.Unlock()
	if !last {
		return nil
	}
	e.opener.mu.Lock()
	delete(e.opener.events, e.name)
	e.opener.mu.Unlock()
	return nil
}
