package event

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Platon7788/xshm"
)

const counterFileSize = 8

// FileOpener backs events with a tiny mmap'd counter file per name, one
// directory per opener, mirroring segment.FileOpener. Signal atomically
// increments the counter; Wait polls it against the last value this handle
// observed. This is a deliberately simple, honest stand-in for the
// OS-specific named synchronization objects spec §1 puts out of scope as an
// external collaborator — no futex or semaphore syscalls, just a shared
// counter any process mapping the same file can observe.
type FileOpener struct {
	Dir string
}

// NewFileOpener returns a FileOpener rooted at dir, creating dir if needed.
// An empty dir defaults to os.TempDir()/xshm-events.
func NewFileOpener(dir string) (*FileOpener, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "xshm-events")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xshm.NewError(xshm.ErrCodeAccess, "event.FileOpener", err)
	}
	return &FileOpener{Dir: dir}, nil
}

func (o *FileOpener) path(name string) string {
	return filepath.Join(o.Dir, name+".evt")
}

type fileEvent struct {
	file     *os.File
	data     []byte
	lastSeen uint64
}

func (e *fileEvent) counterPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&e.data[0]))
}

func (o *FileOpener) Create(name string) (Event, error) {
	path := o.path(name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, xshm.NewError(xshm.ErrCodeExists, "event.FileOpener.Create", err)
		}
		return nil, xshm.NewError(xshm.ErrCodeAccess, "event.FileOpener.Create", err)
	}
	if err := f.Truncate(counterFileSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, xshm.NewError(xshm.ErrCodeMemory, "event.FileOpener.Create", err)
	}
	data, err := mapCounter(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, xshm.NewError(xshm.ErrCodeMemory, "event.FileOpener.Create", err)
	}
	e := &fileEvent{file: f, data: data}
	e.lastSeen = atomic.LoadUint64(e.counterPtr())
	return e, nil
}

func (o *FileOpener) Open(name string) (Event, error) {
	path := o.path(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xshm.NewError(xshm.ErrCodeNotFound, "event.FileOpener.Open", err)
		}
		return nil, xshm.NewError(xshm.ErrCodeAccess, "event.FileOpener.Open", err)
	}
	data, err := mapCounter(f)
	if err != nil {
		f.Close()
		return nil, xshm.NewError(xshm.ErrCodeMemory, "event.FileOpener.Open", err)
	}
	e := &fileEvent{file: f, data: data}
	e.lastSeen = atomic.LoadUint64(e.counterPtr())
	return e, nil
}

// Destroy removes an event's backing file.
func (o *FileOpener) Destroy(name string) error {
	return os.Remove(o.path(name))
}

func mapCounter(f *os.File) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, counterFileSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func (e *fileEvent) Signal() error {
	atomic.AddUint64(e.counterPtr(), 1)
	return nil
}

// Wait polls the shared counter for a change since the last observed value.
// Auto-reset is simulated by advancing lastSeen to the value observed at
// wakeup, so a subsequent Wait only fires on a later Signal.
func (e *fileEvent) Wait(timeout time.Duration) (bool, error) {
	const pollInterval = 200 * time.Microsecond
	deadline := time.Now().Add(timeout)
	for {
		cur := atomic.LoadUint64(e.counterPtr())
		if cur != e.lastSeen {
			e.lastSeen = cur
			return true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return false, nil
		}
		remaining := time.Until(deadline)
		sleep := pollInterval
		if remaining < sleep {
			sleep = remaining
		}
		time.Sleep(sleep)
	}
}

func (e *fileEvent) Close() error {
	var err error
	if e.data != nil {
		err = unix.Munmap(e.data)
	}
	if cerr := e.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
