// Package handshake implements the two-sided IDLE -> CLIENT_HELLO ->
// SERVER_READY rendezvous from spec §4.4, built on segment.Header's
// handshake word and a connect event from the event package.
package handshake

import (
	"time"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/segment"
)

// WaitForClient blocks, as the server side, until a client CASes the shared
// handshake word to CLIENT_HELLO, then atomically advances it to
// SERVER_READY and signals connectEvent so the client's Connect wakes.
// timeout <= 0 polls once without blocking.
func WaitForClient(h segment.Header, connectEvent event.Event, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	const pollInterval = time.Millisecond
	for {
		if h.CASHandshake(wire.HandshakeClientHello, wire.HandshakeServerReady) {
			if connectEvent != nil {
				connectEvent.Signal()
			}
			return nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return xshm.NewError(xshm.ErrCodeTimeout, "handshake.WaitForClient", nil)
		}
		remaining := time.Until(deadline)
		sleep := pollInterval
		if remaining < sleep {
			sleep = remaining
		}
		time.Sleep(sleep)
	}
}

// Connect performs the client side: CAS IDLE -> CLIENT_HELLO, then waits
// for the server to advance to SERVER_READY, bounded by timeout. A CAS
// failure reports NOT_READY (server already mid-handshake with someone
// else) or EXISTS (a peer has already completed SERVER_READY) depending on
// the observed state, per spec §4.4.
func Connect(h segment.Header, connectEvent event.Event, timeout time.Duration) error {
	if !h.CASHandshake(wire.HandshakeIdle, wire.HandshakeClientHello) {
		switch h.Handshake() {
		case wire.HandshakeServerReady:
			return xshm.NewError(xshm.ErrCodeExists, "handshake.Connect", nil)
		default:
			return xshm.NewError(xshm.ErrCodeNotReady, "handshake.Connect", nil)
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		if h.Handshake() == wire.HandshakeServerReady {
			return nil
		}
		if timeout <= 0 {
			return xshm.NewError(xshm.ErrCodeTimeout, "handshake.Connect", nil)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return xshm.NewError(xshm.ErrCodeTimeout, "handshake.Connect", nil)
		}
		wait := remaining
		if connectEvent != nil {
			signaled, err := connectEvent.Wait(wait)
			if err != nil {
				return xshm.NewError(xshm.ErrCodeMemory, "handshake.Connect", err)
			}
			if !signaled {
				if h.Handshake() == wire.HandshakeServerReady {
					return nil
				}
				return xshm.NewError(xshm.ErrCodeTimeout, "handshake.Connect", nil)
			}
			continue
		}
		if wait > time.Millisecond {
			wait = time.Millisecond
		}
		time.Sleep(wait)
	}
}

// ValidateSegment checks the magic/version the shared header carries
// against the wire constants this build expects, per spec §4.4's "magic
// mismatch / version mismatch -> PROTOCOL" rule. segment.Open already
// performs this check; ValidateSegment exists for callers (e.g. the lobby)
// that re-validate a header fetched independently of segment.Open.
func ValidateSegment(h segment.Header) error {
	if h.Magic() != wire.SharedMagic {
		return xshm.NewError(xshm.ErrCodeProtocol, "handshake.ValidateSegment", nil)
	}
	if h.Version() != wire.SharedVersion {
		return xshm.NewError(xshm.ErrCodeProtocol, "handshake.ValidateSegment", nil)
	}
	return nil
}
