// Package auto implements the background-pump wrapper from spec §4.7: a
// channel endpoint driven on its own schedule rather than by explicit
// caller calls, with automatic reconnect and a bounded outbound queue.
package auto

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/channel"
)

// Channel is the subset of channel.Server/channel.Client the pump drives.
// Both satisfy it without modification.
type Channel interface {
	Send(data []byte) error
	Receive(dst []byte) (int, error)
	Poll(timeout time.Duration) error
	State() channel.State
}

// Dial (re)establishes the wrapped channel. It receives the Wrapper so the
// caller's channel.Callbacks can report received messages and receive-side
// overflows back through Wrapper.RecordReceived/RecordReceiveOverflow.
type Dial func(w *Wrapper) (Channel, error)

// Stats mirrors shm_auto_stats_t: cumulative counters for the lifetime of
// the wrapper.
type Stats struct {
	SentMessages     uint64
	SendOverflows    uint64
	ReceivedMessages uint64
	ReceiveOverflows uint64
}

// Options configures the pump. Zero values take spec §6's auto defaults.
type Options struct {
	WaitTimeout    time.Duration // poll timeout per pump cycle
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	MaxSendQueue   int
	Batch          uint32
}

func (o Options) resolve() Options {
	if o.WaitTimeout == 0 {
		o.WaitTimeout = 5000 * time.Millisecond
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 1000 * time.Millisecond
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5000 * time.Millisecond
	}
	if o.MaxSendQueue == 0 {
		o.MaxSendQueue = 1024
	}
	if o.Batch == 0 {
		o.Batch = 32
	}
	return o
}

// Wrapper drives a channel endpoint from a background pump task: Send
// enqueues (non-blocking, dropping and counting on overflow); the pump
// drains the queue into the wire, polls for inbound frames, and
// transparently reconnects on error.
type Wrapper struct {
	dial Dial
	opts Options

	sendQueue chan []byte
	stopCh    chan struct{}
	wg        sync.WaitGroup

	onError func(error)

	sent, sendOverflows, received, receiveOverflows uint64

	mu sync.Mutex
	ch Channel
}

// Start dials the channel and launches the pump goroutine.
func Start(dial Dial, opts Options, onError func(error)) (*Wrapper, error) {
	opts = opts.resolve()
	w := &Wrapper{
		dial:      dial,
		opts:      opts,
		sendQueue: make(chan []byte, opts.MaxSendQueue),
		stopCh:    make(chan struct{}),
		onError:   onError,
	}
	ch, err := dial(w)
	if err != nil {
		return nil, err
	}
	w.ch = ch
	w.wg.Add(1)
	go w.pump()
	return w, nil
}

// Send enqueues data for the pump to forward. Returns ErrFull, incrementing
// send_overflows, when the bounded queue (max_send_queue) is already full —
// spec §4.7's "enqueues outbound messages up to max_send_queue, dropping
// and counting on overflow".
func (w *Wrapper) Send(data []byte) error {
	select {
	case w.sendQueue <- data:
		return nil
	default:
		atomic.AddUint64(&w.sendOverflows, 1)
		return xshm.ErrFull
	}
}

// RecordReceived is called by the caller's on_message callback (wired into
// the Channel returned by Dial) to attribute a delivered frame to this
// wrapper's stats.
func (w *Wrapper) RecordReceived() { atomic.AddUint64(&w.received, 1) }

// RecordReceiveOverflow is called by the caller's on_overflow callback for
// the wrapper's consumer direction.
func (w *Wrapper) RecordReceiveOverflow() { atomic.AddUint64(&w.receiveOverflows, 1) }

// Stats returns a snapshot of the cumulative counters.
func (w *Wrapper) Stats() Stats {
	return Stats{
		SentMessages:     atomic.LoadUint64(&w.sent),
		SendOverflows:    atomic.LoadUint64(&w.sendOverflows),
		ReceivedMessages: atomic.LoadUint64(&w.received),
		ReceiveOverflows: atomic.LoadUint64(&w.receiveOverflows),
	}
}

// Stop halts the pump and waits for it to exit.
func (w *Wrapper) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Wrapper) currentChannel() Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}

func (w *Wrapper) setChannel(ch Channel) {
	w.mu.Lock()
	w.ch = ch
	w.mu.Unlock()
}

func (w *Wrapper) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// pump is the single background task driving this wrapper's channel: drain
// the outbound queue in batches of at most opts.Batch, then poll for
// inbound frames. A Poll error drops the channel and the pump redials it,
// waiting with exponential backoff between failed dials; a Send error only
// drops that payload, counting it in send_overflows (spec §4.7, §5's "each
// channel owns at most one pump task").
func (w *Wrapper) pump() {
	defer w.wg.Done()

	bo := backoff.ExponentialBackOff{
		InitialInterval:     w.opts.ReconnectDelay,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * w.opts.ReconnectDelay, // no elapsed-time cap: redials until Stop
	}
	bo.Reset()

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		ch := w.currentChannel()
		if ch == nil {
			next, err := w.dial(w)
			if err != nil {
				w.reportError(err)
				delay := bo.NextBackOff()
				if delay == backoff.Stop {
					delay = w.opts.ReconnectDelay
				}
				select {
				case <-time.After(delay):
				case <-w.stopCh:
					return
				}
				continue
			}
			bo.Reset()
			w.setChannel(next)
			ch = next
		}

		w.drainOutbound(ch)

		if err := ch.Poll(w.opts.WaitTimeout); err != nil {
			w.reportError(err)
			w.setChannel(nil)
		}
	}
}

func (w *Wrapper) drainOutbound(ch Channel) {
	for i := uint32(0); i < w.opts.Batch; i++ {
		select {
		case payload := <-w.sendQueue:
			if err := ch.Send(payload); err != nil {
				atomic.AddUint64(&w.sendOverflows, 1)
				w.reportError(err)
				continue
			}
			atomic.AddUint64(&w.sent, 1)
		default:
			return
		}
	}
}
