package channel

import (
	"time"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/handshake"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/segment"
)

// Server is the server-side endpoint of a single-client channel (spec
// §4.5): producer on s2c, consumer on c2s.
type Server struct {
	endpoint
	connectEvt event.Event
}

// Start allocates the segment and events and enters Init. It does not
// block; call WaitForClient to accept a connection.
func Start(segOpener segment.Opener, evtOpener event.Opener, cfg Config, cb Callbacks) (*Server, error) {
	ringCap := cfg.RingCapacity
	if ringCap == 0 {
		ringCap = wire.RingCapacity
	}
	size := segment.Size(ringCap)
	backing, err := segOpener.Create(cfg.Name, size)
	if err != nil {
		return nil, err
	}
	seg, err := segment.Create(backing, segment.Options{
		RingCapacity: cfg.RingCapacity,
		MaxMessages:  cfg.MaxMessages,
		BufferBytes:  cfg.BufferBytes,
	})
	if err != nil {
		backing.Close()
		return nil, err
	}

	evts, err := event.CreateSet(evtOpener, cfg.Name)
	if err != nil {
		seg.Close()
		return nil, err
	}
	connectEvt, err := evtOpener.Create(cfg.Name + ".connect")
	if err != nil {
		evts.Close()
		seg.Close()
		return nil, err
	}

	s := &Server{
		endpoint: endpoint{
			name:      cfg.Name,
			segOpener: segOpener,
			evtOpener: evtOpener,
			seg:       seg,
			events:    evts,
			callbacks: cb,
			cfg:       cfg,
			log:       cfg.logger(),
			state:     Init,
			producer:  seg.S2C(),
			consumer:  seg.C2S(),
			dataEvt:   evts.C2SData,
			spaceEvt:  evts.S2CSpace,
		},
		connectEvt: connectEvt,
	}
	return s, nil
}

// WaitForClient blocks until a client completes the handshake or timeout
// elapses, transitioning Init -> Handshaking -> Connected. On timeout the
// endpoint returns to Init, so WaitForClient can be called again.
func (s *Server) WaitForClient(timeout time.Duration) error {
	if s.state != Init {
		return xshm.NewError(xshm.ErrCodeNotReady, "channel.Server.WaitForClient", nil).WithChannel(s.name)
	}
	s.state = Handshaking
	if err := handshake.WaitForClient(s.seg.Header(), s.connectEvt, timeout); err != nil {
		s.state = Init
		return err
	}
	s.seg.Header().SetFlags(s.seg.Header().Flags() | segment.FlagConnected)
	s.state = Connected
	s.log.Info("client connected")
	s.callbacks.connect()
	return nil
}

// Send writes to s2c, requiring Connected.
func (s *Server) Send(data []byte) error { return s.send(data) }

// Receive reads from c2s.
func (s *Server) Receive(dst []byte) (int, error) { return s.receive(dst) }

// Poll blocks on (c2s_data, disconnect) with timeout, draining up to
// cfg.RecvBatch frames.
func (s *Server) Poll(timeout time.Duration) error { return s.poll(timeout) }

// State reports the current endpoint state.
func (s *Server) State() State { return s.state }

// Reset rewinds a server endpoint to Init without tearing down its segment
// or events, for the lobby/slot-segment reuse spec §4.6 describes ("The
// server pre-created these slot segments at startup; they remain open
// across clients"). Calling WaitForClient again re-handshakes a fresh
// client against the same shared memory.
func (s *Server) Reset() {
	s.state = Init
	s.seg.Header().SetHandshake(wire.HandshakeIdle)
	s.seg.Header().SetFlags(s.seg.Header().Flags() &^ segment.FlagConnected)
	s.log.Debug("slot segment reset for reuse")
}

// Stop sets the disconnect event, enters Closed, and releases resources.
// Idempotent: a second call is a no-op (spec §8's "idempotent close" law).
func (s *Server) Stop() error {
	if s.state == Closed {
		return nil
	}
	s.seg.Header().SetFlags(s.seg.Header().Flags() &^ segment.FlagConnected)
	err := s.close()
	if s.connectEvt != nil {
		s.connectEvt.Close()
	}
	s.callbacks.disconnect()
	return err
}
