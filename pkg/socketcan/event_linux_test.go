//go:build linux

package socketcan

import (
	"errors"
	"testing"
	"time"

	"github.com/roffe/canflash"
	"golang.org/x/sys/unix"
)

func TestPollEvent(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	ev, err := newPollEvent(p[0])
	if err != nil {
		t.Fatal(err)
	}

	if err := ev.Wait(10 * time.Millisecond); !errors.Is(err, canflash.ErrTimeout) {
		t.Errorf("idle Wait() = %v, want ErrTimeout", err)
	}
	if _, err := unix.Write(p[1], []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := ev.Wait(time.Second); err != nil {
		t.Errorf("readable Wait() = %v", err)
	}
	var b [1]byte
	unix.Read(p[0], b[:])

	done := make(chan error, 1)
	go func() { done <- ev.Wait(0) }()
	time.Sleep(20 * time.Millisecond)
	if err := ev.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, canflash.ErrChannelClosed) {
			t.Errorf("Wait() after Close = %v, want ErrChannelClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait() still blocked after Close")
	}
	if err := ev.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
