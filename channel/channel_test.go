package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/segment"
)

func newTestOpeners() (*segment.MemOpener, *event.MemOpener) {
	return segment.NewMemOpener(), event.NewMemOpener()
}

func TestRoundTripEchoesExactBytes(t *testing.T) {
	segOpener, evtOpener := newTestOpeners()
	cfg := Config{Name: "echo-chan", RingCapacity: 4096, MaxMessages: 16}

	server, err := Start(segOpener, evtOpener, cfg, Callbacks{})
	require.NoError(t, err)
	defer server.Stop()

	var wg sync.WaitGroup
	var client *Client
	var clientErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		client, clientErr = Connect(segOpener, evtOpener, cfg, Callbacks{}, 500*time.Millisecond)
	}()

	require.NoError(t, server.WaitForClient(500*time.Millisecond))
	wg.Wait()
	require.NoError(t, clientErr)
	defer client.Disconnect()

	payload := []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, server.Send(payload))
	dst := make([]byte, 64)
	n, err := client.Receive(dst)
	require.NoError(t, err)
	require.Equal(t, payload, dst[:n])

	reply := []byte{0x01}
	require.NoError(t, client.Send(reply))
	n, err = server.Receive(dst)
	require.NoError(t, err)
	require.Equal(t, reply, dst[:n])
}

func TestStopIsIdempotent(t *testing.T) {
	segOpener, evtOpener := newTestOpeners()
	cfg := Config{Name: "stop-chan", RingCapacity: 4096, MaxMessages: 16}
	server, err := Start(segOpener, evtOpener, cfg, Callbacks{})
	require.NoError(t, err)

	require.NoError(t, server.Stop())
	require.NoError(t, server.Stop(), "second Stop should be a no-op")
	require.Equal(t, Closed, server.State())
}

func TestSendRejectedBeforeConnected(t *testing.T) {
	segOpener, evtOpener := newTestOpeners()
	cfg := Config{Name: "pre-connect-chan", RingCapacity: 4096, MaxMessages: 16}
	server, err := Start(segOpener, evtOpener, cfg, Callbacks{})
	require.NoError(t, err)
	defer server.Stop()

	err = server.Send([]byte{1})
	var xerr *xshm.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, xshm.ErrCodeNotReady, xerr.Code)
}

func TestPollDrainsMessagesIntoOnMessage(t *testing.T) {
	segOpener, evtOpener := newTestOpeners()
	cfg := Config{Name: "poll-chan", RingCapacity: 4096, MaxMessages: 16}

	var received [][]byte
	var mu sync.Mutex
	server, err := Start(segOpener, evtOpener, cfg, Callbacks{
		OnMessage: func(payload []byte) {
			mu.Lock()
			cp := append([]byte(nil), payload...)
			received = append(received, cp)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer server.Stop()

	var wg sync.WaitGroup
	var client *Client
	wg.Add(1)
	go func() {
		defer wg.Done()
		client, _ = Connect(segOpener, evtOpener, cfg, Callbacks{}, 500*time.Millisecond)
	}()
	require.NoError(t, server.WaitForClient(500*time.Millisecond))
	wg.Wait()
	defer client.Disconnect()

	client.Send([]byte{1, 2, 3})
	client.Send([]byte{4, 5})

	require.NoError(t, server.Poll(50*time.Millisecond))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
}
