// Package channel implements the five-state channel endpoint state machine
// from spec §4.5 on top of segment, ring, event and handshake: one segment
// plus its five events, a producer ring and a consumer ring, wired so the
// caller only sees start/wait_for_client/send/receive/poll/stop (server) or
// connect/send/receive/poll/disconnect (client).
package channel

import (
	"time"

	"go.uber.org/zap"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/handshake"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/ring"
	"github.com/Platon7788/xshm/segment"
)

// State is one of the five states from spec §4.5.
type State int

const (
	Init State = iota
	Handshaking
	Connected
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Handshaking:
		return "Handshaking"
	case Connected:
		return "Connected"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Callbacks is the capability trait spec §9 asks for in place of raw
// function-pointer + user_data callbacks. Every field is optional; a nil
// field is a no-op.
type Callbacks struct {
	OnConnect        func()
	OnDisconnect     func()
	OnMessage        func(payload []byte)
	OnError          func(err error)
	OnSpaceAvailable func()
	OnOverflow       func(dropped uint32)
}

func (c Callbacks) connect() {
	if c.OnConnect != nil {
		c.OnConnect()
	}
}
func (c Callbacks) disconnect() {
	if c.OnDisconnect != nil {
		c.OnDisconnect()
	}
}
func (c Callbacks) message(p []byte) {
	if c.OnMessage != nil {
		c.OnMessage(p)
	}
}
func (c Callbacks) errorf(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
func (c Callbacks) spaceAvailable() {
	if c.OnSpaceAvailable != nil {
		c.OnSpaceAvailable()
	}
}
func (c Callbacks) overflow(dropped uint32) {
	if c.OnOverflow != nil {
		c.OnOverflow(dropped)
	}
}

// Config configures a channel endpoint.
type Config struct {
	Name         string
	RingCapacity uint32
	MaxMessages  uint32
	BufferBytes  uint32
	RecvBatch    uint32

	// Logger receives lifecycle and error events. Nil falls back to a no-op
	// logger, so library code stays silent unless a caller opts in.
	Logger *zap.SugaredLogger
}

func (c Config) recvBatch() uint32 {
	if c.RecvBatch == 0 {
		return 32
	}
	return c.RecvBatch
}

func (c Config) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger.Named("channel").With(zap.String("channel", c.Name))
}

// endpoint holds the pieces both Server and Client assemble identically;
// only which ring is the producer/consumer differs.
type endpoint struct {
	name      string
	segOpener segment.Opener
	evtOpener event.Opener
	seg       *segment.Segment
	events    event.Set
	callbacks Callbacks
	cfg       Config
	log       *zap.SugaredLogger

	state State

	producer *ring.Ring
	consumer *ring.Ring
	dataEvt  event.Event // signaled when consumer has data
	spaceEvt event.Event // signaled when producer has space
}

func (e *endpoint) close() error {
	if e.state == Closed {
		return nil
	}
	e.state = Closed
	e.log.Debug("endpoint closing")
	if e.events.Disconnect != nil {
		e.events.Disconnect.Signal()
	}
	err := e.events.Close()
	if e.seg != nil {
		if cerr := e.seg.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// send writes payload to the producer ring, firing on_overflow on FULL.
func (e *endpoint) send(payload []byte) error {
	if e.state != Connected {
		return xshm.NewError(xshm.ErrCodeNotReady, "channel.send", nil).WithChannel(e.name)
	}
	outcome, err := e.producer.TryWrite(payload)
	if err != nil {
		if err == ring.ErrFull {
			dropped := e.producer.Descriptor().DroppedCount()
			e.log.Warnw("producer ring full, dropping message", "dropped", dropped)
			e.callbacks.overflow(dropped)
		}
		return err
	}
	if outcome.SignalData {
		// Wake the peer: signal the data event of the ring just written.
		peerData := e.events.C2SData
		if e.producer == e.seg.S2C() {
			peerData = e.events.S2CData
		}
		if peerData != nil {
			peerData.Signal()
		}
	}
	return nil
}

// receive reads one frame from the consumer ring into dst.
func (e *endpoint) receive(dst []byte) (int, error) {
	if e.state != Connected && e.state != Draining {
		return 0, xshm.NewError(xshm.ErrCodeNotReady, "channel.receive", nil).WithChannel(e.name)
	}
	n, outcome, err := e.consumer.TryRead(dst)
	if err != nil {
		return 0, err
	}
	if outcome.SignalSpace {
		// Wake the peer: signal the space event of the ring just read.
		peerSpace := e.events.C2SSpace
		if e.consumer == e.seg.S2C() {
			peerSpace = e.events.S2CSpace
		}
		if peerSpace != nil {
			peerSpace.Signal()
		}
		e.callbacks.spaceAvailable()
	}
	return n, nil
}

// poll blocks on (consumer-data, disconnect) with "any" semantics, bounded
// by timeout, then drains up to recvBatch frames invoking on_message per
// frame (spec §4.5's poll/per-slot pump behavior).
func (e *endpoint) poll(timeout time.Duration) error {
	if e.state != Connected && e.state != Draining {
		return xshm.NewError(xshm.ErrCodeNotReady, "channel.poll", nil).WithChannel(e.name)
	}
	waitSet := []event.Event{e.dataEvt, e.events.Disconnect}
	idx, err := event.WaitAny(waitSet, timeout)
	if err != nil {
		return err
	}
	if idx == 1 {
		e.log.Debug("peer disconnect observed, draining")
		e.beginDraining()
	}

	buf := make([]byte, wire.MaxMessageSize)
	batch := e.cfg.recvBatch()
	for i := uint32(0); i < batch; i++ {
		n, err := e.receive(buf)
		if err != nil {
			if err == ring.ErrEmpty {
				break
			}
			e.callbacks.errorf(err)
			break
		}
		e.callbacks.message(buf[:n])
	}
	if e.state == Draining && e.consumer.Descriptor().MessageCount() == 0 {
		e.state = Closed
		e.callbacks.disconnect()
	}
	return nil
}

// beginDraining transitions Connected -> Draining on observing a peer
// disconnect, per spec §4.5.
func (e *endpoint) beginDraining() {
	if e.state == Connected {
		e.state = Draining
	}
}
