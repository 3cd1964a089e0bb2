package multi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Platon7788/xshm/channel"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/segment"
)

func TestMultiAssignsSlotWithoutRegistrationFrame(t *testing.T) {
	segOpener := segment.NewMemOpener()
	evtOpener := event.NewMemOpener()
	srv, err := Start(segOpener, evtOpener, "multi-a", Options{
		MaxClients:   1,
		RingCapacity: 4096,
		MaxMessages:  16,
	}, Callbacks{})
	require.NoError(t, err)
	defer srv.Close()

	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, srv.AcceptOnce())
	}()
	go func() {
		c, err := Connect(segOpener, evtOpener, "multi-a", ClientOptions{}, channel.Callbacks{})
		resultCh <- result{c, err}
	}()

	res := <-resultCh
	wg.Wait()
	require.NoError(t, res.err)
	require.EqualValues(t, 0, res.client.SlotID)
	res.client.Disconnect()
}
