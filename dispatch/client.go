package dispatch

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/lobby"
	"github.com/Platon7788/xshm/segment"
)

// ClientOptions configures a dispatch client's connect call.
type ClientOptions struct {
	Revision       uint16
	Name           string
	LobbyTimeout   time.Duration
	ChannelTimeout time.Duration
	RingCapacity   uint32
	MaxMessages    uint32
	RecvBatch      uint32
	Logger         *zap.SugaredLogger
}

func (o ClientOptions) resolve() ClientOptions {
	if o.LobbyTimeout == 0 {
		o.LobbyTimeout = 5000 * time.Millisecond
	}
	if o.ChannelTimeout == 0 {
		o.ChannelTimeout = 5000 * time.Millisecond
	}
	return o
}

// Client is a dispatch-server client: it completes the lobby protocol
// (spec §4.6 steps 1-5), then holds the channel.Client connected to its
// assigned slot.
type Client struct {
	*channel.Client
	SlotID uint32
}

// Connect runs the full lobby protocol against base, then connects to the
// assigned slot channel. Returns ErrCodeNoSlot if the server reports
// STATUS_REJECTED (spec §4.6 step 5).
func Connect(segOpener segment.Opener, evtOpener event.Opener, base string, opts ClientOptions, cb channel.Callbacks) (*Client, error) {
	opts = opts.resolve()

	lobbyClient, err := channel.Connect(segOpener, evtOpener, channel.Config{
		Name:         base,
		RingCapacity: opts.RingCapacity,
		MaxMessages:  opts.MaxMessages,
		RecvBatch:    opts.RecvBatch,
		Logger:       opts.Logger,
	}, channel.Callbacks{}, opts.LobbyTimeout)
	if err != nil {
		return nil, err
	}

	frame := wire.RegistrationFrame{PID: uint32(os.Getpid()), Revision: opts.Revision, Name: opts.Name}
	if err := lobbyClient.Send(frame.Encode()); err != nil {
		lobbyClient.Disconnect()
		return nil, err
	}

	resp, err := readResponse(lobbyClient, opts.ChannelTimeout)
	if err != nil {
		lobbyClient.Disconnect()
		return nil, err
	}
	lobbyClient.Disconnect()

	if resp.Status != wire.StatusOK {
		return nil, xshm.NewError(xshm.ErrCodeNoSlot, "dispatch.Connect", nil)
	}

	slotClient, err := channel.Connect(segOpener, evtOpener, channel.Config{
		Name:         lobby.ChannelName(base, resp.SlotID),
		RingCapacity: opts.RingCapacity,
		MaxMessages:  opts.MaxMessages,
		RecvBatch:    opts.RecvBatch,
		Logger:       opts.Logger,
	}, cb, opts.ChannelTimeout)
	if err != nil {
		return nil, err
	}

	return &Client{Client: slotClient, SlotID: resp.SlotID}, nil
}

func readResponse(c *channel.Client, timeout time.Duration) (wire.LobbyResponse, error) {
	buf := make([]byte, wire.MaxMessageSize)
	deadline := time.Now().Add(timeout)
	for {
		n, err := c.Receive(buf)
		if err == nil {
			resp, ok := wire.DecodeLobbyResponse(buf[:n])
			if !ok {
				return wire.LobbyResponse{}, xshm.NewError(xshm.ErrCodeProtocol, "dispatch.readResponse", nil)
			}
			return resp, nil
		}
		if time.Now().After(deadline) {
			return wire.LobbyResponse{}, xshm.NewError(xshm.ErrCodeTimeout, "dispatch.readResponse", nil)
		}
		time.Sleep(time.Millisecond)
	}
}
