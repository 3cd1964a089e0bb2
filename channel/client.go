package channel

import (
	"time"

	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/handshake"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/segment"
)

// Client is the client-side endpoint of a single-client channel (spec
// §4.5): producer on c2s, consumer on s2c, symmetric with Server.
type Client struct {
	endpoint
	connectEvt event.Event
}

// Connect opens the named segment, performs the handshake bounded by
// timeout, and on success enters Connected.
func Connect(segOpener segment.Opener, evtOpener event.Opener, cfg Config, cb Callbacks, timeout time.Duration) (*Client, error) {
	ringCap := cfg.RingCapacity
	if ringCap == 0 {
		ringCap = wire.RingCapacity
	}
	size := segment.Size(ringCap)
	backing, err := segOpener.Open(cfg.Name, size)
	if err != nil {
		return nil, err
	}
	seg, err := segment.Open(backing, segment.Options{
		RingCapacity: cfg.RingCapacity,
		MaxMessages:  cfg.MaxMessages,
		BufferBytes:  cfg.BufferBytes,
	})
	if err != nil {
		backing.Close()
		return nil, err
	}

	evts, err := event.OpenSet(evtOpener, cfg.Name)
	if err != nil {
		seg.Close()
		return nil, err
	}
	connectEvt, err := evtOpener.Open(cfg.Name + ".connect")
	if err != nil {
		evts.Close()
		seg.Close()
		return nil, err
	}

	c := &Client{
		endpoint: endpoint{
			name:      cfg.Name,
			segOpener: segOpener,
			evtOpener: evtOpener,
			seg:       seg,
			events:    evts,
			callbacks: cb,
			cfg:       cfg,
			log:       cfg.logger(),
			state:     Handshaking,
			producer:  seg.C2S(),
			consumer:  seg.S2C(),
			dataEvt:   evts.S2CData,
			spaceEvt:  evts.C2SSpace,
		},
		connectEvt: connectEvt,
	}

	if err := handshake.Connect(seg.Header(), connectEvt, timeout); err != nil {
		c.close()
		connectEvt.Close()
		return nil, err
	}
	c.seg.Header().SetFlags(c.seg.Header().Flags() | segment.FlagConnected)
	c.state = Connected
	c.log.Info("connected to server")
	c.callbacks.connect()
	return c, nil
}

// Send writes to c2s, requiring Connected.
func (c *Client) Send(data []byte) error { return c.send(data) }

// Receive reads from s2c.
func (c *Client) Receive(dst []byte) (int, error) { return c.receive(dst) }

// Poll blocks on (s2c_data, disconnect) with timeout, draining up to
// cfg.RecvBatch frames.
func (c *Client) Poll(timeout time.Duration) error { return c.poll(timeout) }

// State reports the current endpoint state.
func (c *Client) State() State { return c.state }

// Disconnect sets the disconnect event, enters Closed, and releases
// resources. Idempotent (spec §8's "idempotent close" law).
func (c *Client) Disconnect() error {
	if c.state == Closed {
		return nil
	}
	c.seg.Header().SetFlags(c.seg.Header().Flags() &^ segment.FlagConnected)
	err := c.close()
	if c.connectEvt != nil {
		c.connectEvt.Close()
	}
	c.callbacks.disconnect()
	return err
}
