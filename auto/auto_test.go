package auto

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Platon7788/xshm/channel"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     [][]byte
	failPoll bool
	pollGate chan struct{}
}

func (f *fakeChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeChannel) Receive(dst []byte) (int, error) { return 0, errors.New("empty") }

func (f *fakeChannel) Poll(timeout time.Duration) error {
	if f.pollGate != nil {
		select {
		case <-f.pollGate:
		case <-time.After(timeout):
		}
	} else {
		time.Sleep(time.Millisecond)
	}
	if f.failPoll {
		return errors.New("poll failed")
	}
	return nil
}

func (f *fakeChannel) State() channel.State { return channel.Connected }

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestWrapperSendsQueuedPayloads(t *testing.T) {
	fc := &fakeChannel{}
	dial := func(w *Wrapper) (Channel, error) { return fc, nil }
	w, err := Start(dial, Options{WaitTimeout: time.Millisecond, Batch: 4}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 3; i++ {
		if err := w.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for fc.sentCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fc.sentCount() != 3 {
		t.Fatalf("expected 3 sent, got %d", fc.sentCount())
	}
	if w.Stats().SentMessages != 3 {
		t.Fatalf("expected SentMessages=3, got %d", w.Stats().SentMessages)
	}
}

func TestWrapperCountsSendQueueOverflow(t *testing.T) {
	fc := &fakeChannel{pollGate: make(chan struct{})}
	dial := func(w *Wrapper) (Channel, error) { return fc, nil }
	w, err := Start(dial, Options{WaitTimeout: time.Hour, MaxSendQueue: 1, Batch: 1}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()
	// Runs before Stop: releases the pump from its gated Poll so Stop can return.
	defer close(fc.pollGate)

	if err := w.Send([]byte{1}); err != nil {
		t.Fatalf("first Send should succeed: %v", err)
	}
	// The pump may have already drained the first item before we can queue
	// a second; retry until we observe an overflow or give up.
	overflowed := false
	for i := 0; i < 1000 && !overflowed; i++ {
		if err := w.Send([]byte{2}); err != nil {
			overflowed = true
		}
	}
	if !overflowed {
		t.Skip("pump drained faster than the test could race it; queue depth 1 is inherently flaky to force")
	}
	if w.Stats().SendOverflows == 0 {
		t.Fatalf("expected at least one recorded overflow")
	}
}

func TestWrapperReconnectsOnPollError(t *testing.T) {
	first := &fakeChannel{failPoll: true}
	second := &fakeChannel{}
	calls := 0
	var mu sync.Mutex
	dial := func(w *Wrapper) (Channel, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	}
	var errs []error
	var errMu sync.Mutex
	w, err := Start(dial, Options{WaitTimeout: time.Millisecond, ReconnectDelay: time.Millisecond}, func(e error) {
		errMu.Lock()
		errs = append(errs, e)
		errMu.Unlock()
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a reconnect dial, only saw %d dial(s)", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecordReceivedUpdatesStats(t *testing.T) {
	fc := &fakeChannel{}
	dial := func(w *Wrapper) (Channel, error) { return fc, nil }
	w, err := Start(dial, Options{WaitTimeout: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	w.RecordReceived()
	w.RecordReceived()
	w.RecordReceiveOverflow()

	stats := w.Stats()
	if stats.ReceivedMessages != 2 {
		t.Fatalf("expected ReceivedMessages=2, got %d", stats.ReceivedMessages)
	}
	if stats.ReceiveOverflows != 1 {
		t.Fatalf("expected ReceiveOverflows=1, got %d", stats.ReceiveOverflows)
	}
}
