package stm32

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/roffe/canflash"
	"github.com/roffe/canflash/pkg/metrics"
)

type Option func(*Client)

// WithProgress is called after every written block. total is -1 when the
// image size is unknown.
func WithProgress(fn func(written, total int)) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

func WithOnMessage(fn func(string)) Option {
	return func(c *Client) {
		c.onMessage = fn
	}
}

// Client runs the bootloader command sequence over a bus. It never retries;
// any failed step has to be restarted from Enable.
type Client struct {
	bus       canflash.Bus
	state     State
	address   uint32
	sizeHint  int
	progress  func(written, total int)
	onMessage func(string)

	negotiation *canflash.Negotiation
}

// New prepares a client. When bus also implements canflash.FilteredReceiver
// the acceptance filter is negotiated for the bootloader identifiers before
// any command is sent.
func New(bus canflash.Bus, opts ...Option) (*Client, error) {
	c := &Client{
		bus:       bus,
		sizeHint:  -1,
		onMessage: func(string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	fr, ok := bus.(canflash.FilteredReceiver)
	if !ok {
		c.onMessage("bus has no acceptance filter, filtering in software")
		return c, nil
	}
	ids := make([]canflash.Identifier, 0, len(receiveIDs))
	for _, id := range receiveIDs {
		ids = append(ids, canflash.MustStandardID(id))
	}
	n, err := canflash.Negotiate(ids, fr.FilterCapabilities())
	if err != nil {
		return nil, fmt.Errorf("negotiate bootloader filter: %w", err)
	}
	if err := fr.AddFilter(n.Filters...); err != nil {
		return nil, fmt.Errorf("install bootloader filter: %w", err)
	}
	c.negotiation = &n
	c.onMessage(fmt.Sprintf("filter strategy: %s", n.Strategy))
	return c, nil
}

func (c *Client) State() State {
	return c.state
}

// Address is the address following the last byte written.
func (c *Client) Address() uint32 {
	return c.address
}

// Negotiation returns the installed filter negotiation, or nil when the bus
// has no acceptance filter.
func (c *Client) Negotiation() *canflash.Negotiation {
	return c.negotiation
}

func (c *Client) require(op string, states ...State) error {
	for _, s := range states {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, c.state)
}

// Enable sends the sync command so the bootloader locks on to the CAN
// interface. It restarts the sequence from any state but StateJumped.
func (c *Client) Enable(ctx context.Context) error {
	if c.state == StateJumped {
		return fmt.Errorf("%w: cannot enable after jump", ErrInvalidState)
	}
	c.state = StateCreated
	if err := c.send(ctx, CmdSync, nil); err != nil {
		return err
	}
	if err := c.receiveAck(ctx, CmdSync); err != nil {
		return err
	}
	c.state = StateEnabled
	return nil
}

// Erase mass-erases flash. The bootloader answers twice, once when the
// command is accepted and once when the erase has finished.
func (c *Client) Erase(ctx context.Context) error {
	if err := c.require("erase", StateEnabled); err != nil {
		return err
	}
	if err := c.send(ctx, CmdErase, []byte{EraseAll}); err != nil {
		return err
	}
	for range 2 {
		if err := c.receiveAck(ctx, CmdErase); err != nil {
			return err
		}
	}
	c.state = StateErased
	return nil
}

// Write copies r to flash starting at addr in blocks of up to BlockSize
// bytes. It stops at the first read that returns no data. An image of known
// size that would run past 0xFFFFFFFF is rejected before anything is sent.
func (c *Client) Write(ctx context.Context, addr uint32, r io.Reader) error {
	if err := c.require("write", StateErased); err != nil {
		return err
	}
	total := c.sizeHint
	if total < 0 {
		total = sizeOf(r)
	}
	if total > 0 && !fits(addr, total) {
		return fmt.Errorf("%w: %d bytes at 0x%08X", ErrAddressRange, total, addr)
	}
	c.state = StateWriting

	buf := make([]byte, BlockSize)
	written := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if !fits(addr, written+n) {
				return fmt.Errorf("%w: block 0x%X past 0x%08X", ErrAddressRange, written, addr)
			}
			if werr := c.writeBlock(ctx, addr+uint32(written), buf[:n]); werr != nil {
				return werr
			}
			written += n
			c.address = addr + uint32(written)
			if c.progress != nil {
				c.progress(written, total)
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read image: %w", err)
		}
		if n == 0 {
			break
		}
	}
	c.state = StateErased
	return nil
}

func fits(addr uint32, n int) bool {
	return uint64(addr)+uint64(n) <= 1<<32
}

func (c *Client) writeBlock(ctx context.Context, addr uint32, block []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, addr)
	header[4] = byte(len(block) - 1)
	if err := c.send(ctx, CmdWriteMemory, header); err != nil {
		return err
	}
	if err := c.receiveAck(ctx, CmdWriteMemory); err != nil {
		return fmt.Errorf("write header 0x%08X: %w", addr, err)
	}
	for chunk := range slices.Chunk(block, 8) {
		if err := c.send(ctx, CmdWriteData, chunk); err != nil {
			return err
		}
	}
	if err := c.receiveAck(ctx, CmdWriteMemory); err != nil {
		return fmt.Errorf("write block 0x%08X: %w", addr, err)
	}
	metrics.AddBytesWritten(len(block))
	return nil
}

// Go makes the bootloader jump to addr.
func (c *Client) Go(ctx context.Context, addr uint32) error {
	if err := c.require("go", StateErased); err != nil {
		return err
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, addr)
	if err := c.send(ctx, CmdGo, payload); err != nil {
		return err
	}
	if err := c.receiveAck(ctx, CmdGo); err != nil {
		return err
	}
	c.state = StateJumped
	return nil
}

func (c *Client) send(ctx context.Context, id uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := canflash.NewStandardFrame(id, data)
	if err != nil {
		return err
	}
	if err := c.bus.Transmit(f); err != nil {
		return fmt.Errorf("send 0x%02X: %w", id, err)
	}
	return nil
}

// receiveAck waits for the acknowledgement of cmd. Frames outside the
// bootloader identifiers are dropped; anything else that is not the ack
// aborts the command.
func (c *Client) receiveAck(ctx context.Context, cmd uint32) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := c.bus.ReceiveBlocking()
		if err != nil {
			return fmt.Errorf("waiting for ACK on 0x%02X: %w", cmd, err)
		}
		if !isProtocolFrame(f) {
			metrics.IncFiltered()
			c.onMessage("ignoring " + f.String())
			continue
		}
		data := f.Data()
		if f.Identifier() == cmd && !f.IsRemote() && len(data) == 1 && data[0] == Ack {
			metrics.IncAck()
			return nil
		}
		metrics.IncError(metrics.ErrProtocol)
		return &UnexpectedAckError{Command: cmd, Frame: f}
	}
}

func sizeOf(r io.Reader) int {
	switch v := r.(type) {
	case interface{ Len() int }:
		return v.Len()
	case *os.File:
		if fi, err := v.Stat(); err == nil {
			return int(fi.Size())
		}
	}
	return -1
}
