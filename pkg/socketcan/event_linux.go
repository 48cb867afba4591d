//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/roffe/canflash"
	"golang.org/x/sys/unix"
)

// pollEvent waits for the socket to become readable. Close writes to wake,
// an eventfd, since closing the socket does not end a poll already waiting
// on it.
type pollEvent struct {
	fd     int
	wake   int
	closed atomic.Bool
}

func newPollEvent(fd int) (*pollEvent, error) {
	wake, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &pollEvent{fd: fd, wake: wake}, nil
}

func (e *pollEvent) Handle() uint64 {
	return uint64(e.fd)
}

func (e *pollEvent) Wait(timeout time.Duration) error {
	ms := -1
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return canflash.ErrTimeout
			}
			ms = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		if e.closed.Load() {
			return canflash.ErrChannelClosed
		}
		fds := []unix.PollFd{
			{Fd: int32(e.fd), Events: unix.POLLIN},
			{Fd: int32(e.wake), Events: unix.POLLIN},
		}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return canflash.ErrTimeout
		}
		if fds[1].Revents != 0 || fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return canflash.ErrChannelClosed
		}
		return nil
	}
}

// Close wakes a pending Wait and releases the eventfd. The socket belongs to
// the driver.
func (e *pollEvent) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(e.wake, one[:]); err != nil {
		unix.Close(e.wake)
		return err
	}
	return unix.Close(e.wake)
}
