// Package dispatch implements the registration-carrying multi-client
// server from spec §4.6: a lobby channel exchanging {pid, revision, name}
// for {slot_id, status}, backed by N pre-created slot channels that
// outlive any one client's connection.
package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/lobby"
	"github.com/Platon7788/xshm/segment"
)

// Callbacks is the dispatch server's capability trait (spec §4.6, §9).
type Callbacks struct {
	OnClientConnect    func(slotID, pid uint32, revision uint16, name string)
	OnClientDisconnect func(slotID uint32)
	OnMessage          func(slotID uint32, payload []byte)
	OnError            func(err error)
	OnOverflow         func(slotID uint32, direction string, dropped uint32)
}

// Options configures a dispatch server. Zero values take spec §6's
// defaults.
type Options struct {
	MaxClients     uint32
	LobbyTimeout   time.Duration
	ChannelTimeout time.Duration
	RingCapacity   uint32
	MaxMessages    uint32
	RecvBatch      uint32
	Logger         *zap.SugaredLogger
}

func (o Options) resolve() Options {
	if o.MaxClients == 0 {
		o.MaxClients = wire.DefaultMaxClientsDispatch
	}
	if o.LobbyTimeout == 0 {
		o.LobbyTimeout = 5000 * time.Millisecond
	}
	if o.ChannelTimeout == 0 {
		o.ChannelTimeout = 5000 * time.Millisecond
	}
	return o
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger.Named("dispatch")
}

// Server owns the lobby channel and every slot's channel.Server, per spec
// §4.6.
type Server struct {
	base      string
	segOpener segment.Opener
	evtOpener event.Opener
	opts      Options
	cb        Callbacks
	log       *zap.SugaredLogger

	lobbyServer *channel.Server
	slots       *lobby.SlotTable
	slotServers map[uint32]*channel.Server
	slotPID     map[uint32]uint32
}

// Start creates the lobby segment and pre-creates every slot segment
// (spec §4.6: "The server pre-created these slot segments at startup;
// they remain open across clients").
func Start(segOpener segment.Opener, evtOpener event.Opener, base string, opts Options, cb Callbacks) (*Server, error) {
	opts = opts.resolve()
	log := opts.logger().With(zap.String("base", base))

	lobbyServer, err := channel.Start(segOpener, evtOpener, channel.Config{
		Name:         base,
		RingCapacity: opts.RingCapacity,
		MaxMessages:  opts.MaxMessages,
		RecvBatch:    opts.RecvBatch,
		Logger:       opts.Logger,
	}, channel.Callbacks{OnError: cb.OnError})
	if err != nil {
		return nil, err
	}

	s := &Server{
		base:        base,
		segOpener:   segOpener,
		evtOpener:   evtOpener,
		opts:        opts,
		cb:          cb,
		log:         log,
		lobbyServer: lobbyServer,
		slots:       lobby.NewSlotTable(opts.MaxClients),
		slotServers: make(map[uint32]*channel.Server, opts.MaxClients),
		slotPID:     make(map[uint32]uint32, opts.MaxClients),
	}

	for i := uint32(0); i < opts.MaxClients; i++ {
		slotServer, err := channel.Start(segOpener, evtOpener, channel.Config{
			Name:         lobby.ChannelName(base, i),
			RingCapacity: opts.RingCapacity,
			MaxMessages:  opts.MaxMessages,
			RecvBatch:    opts.RecvBatch,
			Logger:       opts.Logger,
		}, s.slotCallbacks(i))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.slotServers[i] = slotServer
	}
	return s, nil
}

func (s *Server) slotCallbacks(slotID uint32) channel.Callbacks {
	return channel.Callbacks{
		OnMessage: func(payload []byte) {
			if s.cb.OnMessage != nil {
				s.cb.OnMessage(slotID, payload)
			}
		},
		OnDisconnect: func() {
			s.slots.Release(slotID)
			s.log.Infow("client disconnected", "slot_id", slotID)
			if s.cb.OnClientDisconnect != nil {
				s.cb.OnClientDisconnect(slotID)
			}
			if srv, ok := s.slotServers[slotID]; ok {
				srv.Reset()
			}
		},
		OnError: s.cb.OnError,
		OnOverflow: func(dropped uint32) {
			if s.cb.OnOverflow != nil {
				s.cb.OnOverflow(slotID, "s2c", dropped)
			}
		},
	}
}

// AcceptOnce waits for one client to complete the lobby protocol (spec
// §4.6 steps 1-5): handshake, read registration, assign a slot (or
// reject), write the response, reset the lobby for the next client, and
// then wait (up to ChannelTimeout) for the client's handshake on its slot
// channel. A lobby handshake timeout is not an error worth surfacing to the
// caller's error channel; it simply means no client showed up this round.
func (s *Server) AcceptOnce() error {
	if err := s.lobbyServer.WaitForClient(s.opts.LobbyTimeout); err != nil {
		if xe, ok := err.(*xshm.Error); ok && xe.Code == xshm.ErrCodeTimeout {
			return nil
		}
		return err
	}

	frame, err := s.readRegistration()
	if err != nil {
		s.lobbyServer.Reset()
		return err
	}

	slotID, ok := s.slots.Assign()
	status := wire.StatusOK
	if !ok {
		status = wire.StatusRejected
	}
	resp := wire.LobbyResponse{SlotID: slotID, Status: status}
	err = s.lobbyServer.Send(resp.Encode())
	s.lobbyServer.Reset()
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warnw("rejected registration, no free slot", "pid", frame.PID, "name", frame.Name)
		return nil
	}

	slotServer := s.slotServers[slotID]
	if err := slotServer.WaitForClient(s.opts.ChannelTimeout); err != nil {
		slotServer.Reset()
		s.slots.Release(slotID)
		return err
	}

	s.slotPID[slotID] = frame.PID
	s.log.Infow("client registered", "slot_id", slotID, "pid", frame.PID, "revision", frame.Revision, "name", frame.Name)
	if s.cb.OnClientConnect != nil {
		s.cb.OnClientConnect(slotID, frame.PID, frame.Revision, frame.Name)
	}
	return nil
}

func (s *Server) readRegistration() (wire.RegistrationFrame, error) {
	buf := make([]byte, wire.MaxMessageSize)
	deadline := time.Now().Add(s.opts.ChannelTimeout)
	for {
		n, err := s.lobbyServer.Receive(buf)
		if err == nil {
			frame, ok := wire.DecodeRegistrationFrame(buf[:n])
			if !ok {
				return wire.RegistrationFrame{}, xshm.NewError(xshm.ErrCodeProtocol, "dispatch.readRegistration", nil)
			}
			return frame, nil
		}
		if time.Now().After(deadline) {
			return wire.RegistrationFrame{}, xshm.NewError(xshm.ErrCodeTimeout, "dispatch.readRegistration", nil)
		}
		time.Sleep(time.Millisecond)
	}
}

// PumpSlot drains up to one batch of messages for slotID, invoking
// on_message per frame (spec §4.6's "per-slot pump").
func (s *Server) PumpSlot(slotID uint32, timeout time.Duration) error {
	srv, ok := s.slotServers[slotID]
	if !ok {
		return xshm.NewError(xshm.ErrCodeInvalidParam, "dispatch.PumpSlot", nil)
	}
	if srv.State() != channel.Connected && srv.State() != channel.Draining {
		return nil
	}
	return srv.Poll(timeout)
}

// Send writes to one occupied slot.
func (s *Server) Send(slotID uint32, data []byte) error {
	srv, ok := s.slotServers[slotID]
	if !ok {
		return xshm.NewError(xshm.ErrCodeInvalidParam, "dispatch.Send", nil)
	}
	return srv.Send(data)
}

// Broadcast attempts send on every occupied slot in ascending id order,
// swallowing per-slot failures (spec §4.6: "Per-slot failures are
// swallowed; a global failure returns an error").
func (s *Server) Broadcast(data []byte) (sentCount int, err error) {
	for _, id := range s.slots.Occupied() {
		srv, ok := s.slotServers[id]
		if !ok {
			continue
		}
		if sendErr := srv.Send(data); sendErr == nil {
			sentCount++
		}
	}
	return sentCount, nil
}

// ClientCount reports the number of currently occupied slots.
func (s *Server) ClientCount() int { return s.slots.OccupiedCount() }

// OccupiedSlots reports the currently occupied slot ids in ascending order,
// for callers that need to pump every connected slot (e.g. cmd/dispatchserver).
func (s *Server) OccupiedSlots() []uint32 { return s.slots.Occupied() }

// Close stops the lobby and every slot server.
func (s *Server) Close() error {
	var first error
	for _, srv := range s.slotServers {
		if err := srv.Stop(); err != nil && first == nil {
			first = err
		}
	}
	if s.lobbyServer != nil {
		if err := s.lobbyServer.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
