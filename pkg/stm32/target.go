package stm32

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/roffe/canflash"
)

// Target simulates the CAN bootloader of an STM32 with a flash region of
// Size bytes at Base. It answers the way the ROM bootloader does and can be
// attached to a virtual driver as its responder.
type Target struct {
	Base uint32
	Size int

	// EraseAcks is the number of acknowledgements sent for an erase; the
	// real bootloader sends two.
	EraseAcks int

	mu       sync.Mutex
	flash    []byte
	synced   bool
	pending  *pendingWrite
	jumped   bool
	jumpAddr uint32
	headers  []uint32
}

type pendingWrite struct {
	addr uint32
	want int
	buf  []byte
}

func NewTarget(base uint32, size int) *Target {
	t := &Target{
		Base:      base,
		Size:      size,
		EraseAcks: 2,
		flash:     make([]byte, size),
	}
	for i := range t.flash {
		t.flash[i] = 0xFF
	}
	return t
}

func reply(id uint32, b byte) []canflash.Frame {
	f, _ := canflash.NewStandardFrame(id, []byte{b})
	return []canflash.Frame{f}
}

// Respond handles one frame sent by the host.
func (t *Target) Respond(f canflash.Frame) []canflash.Frame {
	if f.IsExtended() || f.IsRemote() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	data := f.Data()

	switch f.Identifier() {
	case CmdSync:
		t.synced = true
		t.pending = nil
		return reply(CmdSync, Ack)

	case CmdErase:
		if !t.synced || len(data) != 1 || data[0] != EraseAll {
			return reply(CmdErase, Nack)
		}
		for i := range t.flash {
			t.flash[i] = 0xFF
		}
		var out []canflash.Frame
		for range t.EraseAcks {
			out = append(out, reply(CmdErase, Ack)...)
		}
		return out

	case CmdWriteMemory:
		if !t.synced || len(data) != 5 {
			return reply(CmdWriteMemory, Nack)
		}
		addr := binary.BigEndian.Uint32(data)
		n := int(data[4]) + 1
		if !t.inRange(addr, n) {
			return reply(CmdWriteMemory, Nack)
		}
		t.pending = &pendingWrite{addr: addr, want: n}
		t.headers = append(t.headers, addr)
		return reply(CmdWriteMemory, Ack)

	case CmdWriteData:
		if t.pending == nil {
			return reply(CmdWriteMemory, Nack)
		}
		t.pending.buf = append(t.pending.buf, data...)
		if len(t.pending.buf) < t.pending.want {
			return nil
		}
		p := t.pending
		t.pending = nil
		if len(p.buf) != p.want {
			return reply(CmdWriteMemory, Nack)
		}
		copy(t.flash[p.addr-t.Base:], p.buf)
		return reply(CmdWriteMemory, Ack)

	case CmdGo:
		if !t.synced || len(data) != 4 {
			return reply(CmdGo, Nack)
		}
		t.jumped = true
		t.jumpAddr = binary.BigEndian.Uint32(data)
		return reply(CmdGo, Ack)
	}
	return nil
}

func (t *Target) inRange(addr uint32, n int) bool {
	if addr < t.Base {
		return false
	}
	off := int(addr - t.Base)
	return off+n <= len(t.flash)
}

// Memory returns a copy of the simulated flash.
func (t *Target) Memory() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.flash)
}

// Headers returns the address of every write header received.
func (t *Target) Headers() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint32(nil), t.headers...)
}

// Jumped reports whether a go command was accepted and its address.
func (t *Target) Jumped() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jumpAddr, t.jumped
}
