package handshake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Platon7788/xshm"
	"github.com/Platon7788/xshm/event"
	"github.com/Platon7788/xshm/internal/wire"
	"github.com/Platon7788/xshm/segment"
)

func newTestSegment(t *testing.T) *segment.Segment {
	t.Helper()
	opener := segment.NewMemOpener()
	opts := segment.Options{RingCapacity: 4096, MaxMessages: 16}
	size := segment.Size(4096)
	backing, err := opener.Create("handshake-test", size)
	require.NoError(t, err)
	seg, err := segment.Create(backing, opts)
	require.NoError(t, err)
	return seg
}

func TestHandshakeCompletesClientAndServer(t *testing.T) {
	seg := newTestSegment(t)
	opener := event.NewMemOpener()
	connectEvt, err := opener.Create("handshake-test.connect")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var serverErr, clientErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		serverErr = WaitForClient(seg.Header(), connectEvt, 500*time.Millisecond)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		clientErr = Connect(seg.Header(), connectEvt, 500*time.Millisecond)
	}()
	wg.Wait()

	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	require.Equal(t, wire.HandshakeServerReady, seg.Header().Handshake())
}

func TestConnectTimesOutWhenServerNeverWaits(t *testing.T) {
	seg := newTestSegment(t)
	opener := event.NewMemOpener()
	connectEvt, _ := opener.Create("handshake-timeout.connect")

	err := Connect(seg.Header(), connectEvt, 20*time.Millisecond)
	var xerr *xshm.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, xshm.ErrCodeTimeout, xerr.Code)
	// Scenario 5: handshake_state == CLIENT_HELLO at teardown.
	require.Equal(t, wire.HandshakeClientHello, seg.Header().Handshake())
}

func TestConnectRejectsWhenAlreadyServerReady(t *testing.T) {
	seg := newTestSegment(t)
	seg.Header().SetHandshake(wire.HandshakeServerReady)

	err := Connect(seg.Header(), nil, time.Millisecond)
	var xerr *xshm.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, xshm.ErrCodeExists, xerr.Code)
}

func TestConnectRejectsWhenAnotherClientMidHandshake(t *testing.T) {
	seg := newTestSegment(t)
	seg.Header().SetHandshake(wire.HandshakeClientHello)

	err := Connect(seg.Header(), nil, time.Millisecond)
	var xerr *xshm.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, xshm.ErrCodeNotReady, xerr.Code)
}

func TestHandshakeMonotonicity(t *testing.T) {
	seg := newTestSegment(t)
	require.Equal(t, wire.HandshakeIdle, seg.Header().Handshake(), "fresh segment must start IDLE")
	opener := event.NewMemOpener()
	connectEvt, _ := opener.Create("handshake-mono.connect")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		WaitForClient(seg.Header(), connectEvt, 500*time.Millisecond)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		Connect(seg.Header(), connectEvt, 500*time.Millisecond)
	}()
	wg.Wait()
	require.Equal(t, wire.HandshakeServerReady, seg.Header().Handshake())
}

func TestValidateSegmentRejectsBadMagic(t *testing.T) {
	seg := newTestSegment(t)
	// Simulate a foreign/corrupt header by checking against the real one
	// first (sanity), then a header-shaped buffer with a bad magic.
	require.NoError(t, ValidateSegment(seg.Header()))

	bad := make([]byte, wire.HeaderSize)
	wire.PutU32(bad[wire.OffMagic:], wire.SharedMagic+1)
	wire.PutU32(bad[wire.OffVersion:], wire.SharedVersion)
	err := ValidateSegment(segment.NewHeader(bad))
	var xerr *xshm.Error
	require.ErrorAs(t, err, &xerr)
	require.Equal(t, xshm.ErrCodeProtocol, xerr.Code)
}
