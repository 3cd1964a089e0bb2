// Package event implements the kernel-signaling capability spec §4.3 asks
// for: four auto-reset events per channel (s2c_data, s2c_space, c2s_data,
// c2s_space) plus one disconnect event, with "wait on any of several events
// with a timeout" semantics for the data/disconnect pair blocking calls use.
//
// Spec §1 explicitly treats the OS-specific backing for these events (named
// synchronization objects) as an external collaborator; Event is the
// capability boundary. This package ships two concrete implementations: an
// in-process channel-backed one for same-process pairs and tests, and a
// polled, mmap'd-counter one that works across real OS processes.
package event

import "time"

// Event is an auto-reset, "signaled/not-signaled" synchronization object.
// Signal is idempotent with respect to waking exactly one pending or future
// Wait; multiple Signal calls between two Wait calls collapse into a single
// wakeup (spec §4.3: "All are auto-reset (\"synchronization\") events").
type Event interface {
	// Signal marks the event signaled, waking one blocked (or the next)
	// Wait call.
	Signal() error
	// Wait blocks until the event is signaled or timeout elapses (zero
	// means poll once and return immediately). Returns true if signaled,
	// false on timeout. Callers must re-check their own state on wake,
	// since Wait may also return due to a spurious wake (spec §4.3).
	Wait(timeout time.Duration) (bool, error)
	// Close releases resources held by this process's handle.
	Close() error
}

// WaitAny blocks until any of events is signaled or timeout elapses,
// matching spec §4.3/§5's "wait on (data, disconnect) with any semantics".
// It returns the index of the first event observed signaled, or -1 on
// timeout. Zero timeout polls once.
func WaitAny(events []Event, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = time.Millisecond
	for {
		for i, e := range events {
			signaled, err := e.Wait(0)
			if err != nil {
				return -1, err
			}
			if signaled {
				return i, nil
			}
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return -1, nil
		}
		remaining := time.Until(deadline)
		sleep := pollInterval
		if remaining < sleep {
			sleep = remaining
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}
