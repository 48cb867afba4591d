//go:build windows

package pcan

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/roffe/canflash"
	"golang.org/x/sys/windows"
)

const (
	waitObject0 = 0x00000000
	waitTimeout = 0x00000102
	infinite    = 0xFFFFFFFF
)

// receiveEvent is an auto-reset Win32 event the driver signals whenever a
// frame is queued. h never changes after creation so Wait may run on another
// goroutine than Close.
type receiveEvent struct {
	h      windows.Handle
	closed atomic.Bool
}

func newReceiveEvent() (*receiveEvent, error) {
	h, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateEvent failed: %w", err)
	}
	return &receiveEvent{h: h}, nil
}

// Handle returns the low 32 bits of the HANDLE, which is what PCAN-Basic
// stores for PCAN_RECEIVE_EVENT.
func (e *receiveEvent) Handle() uint64 {
	return uint64(uint32(e.h))
}

func (e *receiveEvent) Wait(timeout time.Duration) error {
	if e.closed.Load() {
		return canflash.ErrChannelClosed
	}
	ms := uint32(infinite)
	if timeout > 0 {
		ms = uint32((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	res, err := windows.WaitForSingleObject(e.h, ms)
	switch res {
	case waitObject0:
		if e.closed.Load() {
			return canflash.ErrChannelClosed
		}
		return nil
	case waitTimeout:
		return canflash.ErrTimeout
	default:
		if e.closed.Load() {
			return canflash.ErrChannelClosed
		}
		if err != nil {
			return fmt.Errorf("WaitForSingleObject failed: %w", err)
		}
		return fmt.Errorf("unexpected wait result 0x%X", res)
	}
}

// Close wakes a pending Wait before releasing the handle.
func (e *receiveEvent) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	windows.SetEvent(e.h)
	return windows.CloseHandle(e.h)
}
