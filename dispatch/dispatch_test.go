package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/segment"
)

func newTestServer(t *testing.T, base string, maxClients uint32) (*Server, *segment.MemOpener, *event.MemOpener) {
	t.Helper()
	segOpener := segment.NewMemOpener()
	evtOpener := event.NewMemOpener()
	srv, err := Start(segOpener, evtOpener, base, Options{
		MaxClients:   maxClients,
		RingCapacity: 4096,
		MaxMessages:  16,
	}, Callbacks{})
	require.NoError(t, err)
	return srv, segOpener, evtOpener
}

func connectAsync(t *testing.T, segOpener segment.Opener, evtOpener event.Opener, base string) <-chan result {
	ch := make(chan result, 1)
	go func() {
		c, err := Connect(segOpener, evtOpener, base, ClientOptions{Name: "client"}, channel.Callbacks{})
		ch <- result{c, err}
	}()
	return ch
}

type result struct {
	client *Client
	err    error
}

func TestDispatchRejectsThirdClientWhenMaxClientsIsTwo(t *testing.T) {
	srv, segOpener, evtOpener := newTestServer(t, "disp-a", 2)
	defer srv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			require.NoError(t, srv.AcceptOnce())
		}
	}()

	c1 := <-connectAsync(t, segOpener, evtOpener, "disp-a")
	require.NoError(t, c1.err)
	require.Contains(t, []uint32{0, 1}, c1.client.SlotID)

	c2 := <-connectAsync(t, segOpener, evtOpener, "disp-a")
	require.NoError(t, c2.err)

	c3 := <-connectAsync(t, segOpener, evtOpener, "disp-a")
	var xerr *xshm.Error
	require.ErrorAs(t, c3.err, &xerr)
	require.Equal(t, xshm.ErrCodeNoSlot, xerr.Code)
	wg.Wait()

	c1.client.Disconnect()
	c2.client.Disconnect()
}

func TestDispatchReusesSlotAfterDisconnect(t *testing.T) {
	srv, segOpener, evtOpener := newTestServer(t, "disp-b", 1)
	defer srv.Close()

	var acceptWG sync.WaitGroup
	acceptWG.Add(1)
	go func() {
		defer acceptWG.Done()
		srv.AcceptOnce()
	}()
	c1 := <-connectAsync(t, segOpener, evtOpener, "disp-b")
	require.NoError(t, c1.err)
	acceptWG.Wait()
	require.EqualValues(t, 0, c1.client.SlotID)

	c1.client.Disconnect()
	// Let the server observe the disconnect and reset the slot.
	deadline := time.Now().Add(time.Second)
	for srv.slots.OccupiedCount() != 0 && time.Now().Before(deadline) {
		srv.PumpSlot(0, 20*time.Millisecond)
	}
	require.Zero(t, srv.slots.OccupiedCount(), "expected slot 0 to be released after disconnect")

	acceptWG.Add(1)
	go func() {
		defer acceptWG.Done()
		srv.AcceptOnce()
	}()
	c2 := <-connectAsync(t, segOpener, evtOpener, "disp-b")
	acceptWG.Wait()
	require.NoError(t, c2.err)
	require.EqualValues(t, 0, c2.client.SlotID, "expected slot 0 reused")
	c2.client.Disconnect()
}
