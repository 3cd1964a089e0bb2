// Package multi implements the plain multi-client server family restored
// from original_source/'s ABI (shm_multi_server_*/shm_multi_client_*): the
// same FIFO slot assignment and lobby handshake as dispatch, but with no
// registration frame — a client simply learns its slot_id from the lobby
// response.
package multi

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

// Callbacks is the multi server's capability trait.
type Callbacks struct {
	OnClientConnect    func(slotID uint32)
	OnClientDisconnect func(slotID uint32)
	OnMessage          func(slotID uint32, payload []byte)
	OnError            func(err error)
}

// Options configures a multi server. Zero values take spec §6's defaults
// for the plain variant (max_clients=10).
type Options struct {
	MaxClients     uint32
	LobbyTimeout   time.Duration
	RingCapacity   uint32
	MaxMessages    uint32
	RecvBatch      uint32
	Logger         *zap.SugaredLogger
}

func (o Options) resolve() Options {
	if o.MaxClients == 0 {
		o.MaxClients = wire.DefaultMaxClientsMulti
	}
	if o.LobbyTimeout == 0 {
		o.LobbyTimeout = 5000 * time.Millisecond
	}
	return o
}

func (o Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger.Named("multi")
}

// Server owns the lobby channel and every slot's channel.Server.
type Server struct {
	base        string
	opts        Options
	cb          Callbacks
	log         *zap.SugaredLogger
	lobbyServer *channel.Server
	slots       *lobby.SlotTable
	slotServers map[uint32]*channel.Server
}

// Start creates the lobby segment and pre-creates every slot segment.
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
		opts:        opts,
		cb:          cb,
		log:         log,
		lobbyServer: lobbyServer,
		slots:       lobby.NewSlotTable(opts.MaxClients),
		slotServers: make(map[uint32]*channel.Server, opts.MaxClients),
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
	}
}

// AcceptOnce waits for one client's lobby handshake, assigns (or rejects)
// a slot, replies with the lobby response, resets the lobby, and then waits
// (up to LobbyTimeout) for the client's handshake on its slot channel — no
// registration frame is read, unlike dispatch.AcceptOnce.
func (s *Server) AcceptOnce() error {
	if err := s.lobbyServer.WaitForClient(s.opts.LobbyTimeout); err != nil {
		if xe, ok := err.(*xshm.Error); ok && xe.Code == xshm.ErrCodeTimeout {
			return nil
		}
		return err
	}

	slotID, ok := s.slots.Assign()
	status := wire.StatusOK
	if !ok {
		status = wire.StatusRejected
	}
	resp := wire.LobbyResponse{SlotID: slotID, Status: status}
	err := s.lobbyServer.Send(resp.Encode())
	s.lobbyServer.Reset()
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("rejected client, no free slot")
		return nil
	}

	slotServer := s.slotServers[slotID]
	if err := slotServer.WaitForClient(s.opts.LobbyTimeout); err != nil {
		slotServer.Reset()
		s.slots.Release(slotID)
		return err
	}
	s.log.Infow("client assigned slot", "slot_id", slotID)
	if s.cb.OnClientConnect != nil {
		s.cb.OnClientConnect(slotID)
	}
	return nil
}

// PumpSlot drains up to one batch of messages for slotID.
func (s *Server) PumpSlot(slotID uint32, timeout time.Duration) error {
	srv, ok := s.slotServers[slotID]
	if !ok {
		return xshm.NewError(xshm.ErrCodeInvalidParam, "multi.PumpSlot", nil)
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
		return xshm.NewError(xshm.ErrCodeInvalidParam, "multi.Send", nil)
	}
	return srv.Send(data)
}

// Broadcast attempts send on every occupied slot in ascending id order.
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

// OccupiedSlots reports the currently occupied slot ids in ascending order.
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
