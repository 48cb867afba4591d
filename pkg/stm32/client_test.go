package stm32

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/roffe/canflash"
	"github.com/roffe/canflash/pkg/virtual"
)

var _ virtual.Responder = (*Target)(nil)

func openChannel(t *testing.T, r virtual.Responder, opts ...virtual.Option) (*canflash.Channel, *virtual.Driver) {
	t.Helper()
	drv := virtual.New(r, opts...)
	ch, err := canflash.Open(drv, canflash.WithReadTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch, drv
}

func image(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

func sentOn(msgs []canflash.Msg, id uint32) []canflash.Msg {
	var out []canflash.Msg
	for _, m := range msgs {
		if m.ID == id {
			out = append(out, m)
		}
	}
	return out
}

func TestFlash(t *testing.T) {
	target := NewTarget(DefaultAddress, 4096)
	ch, drv := openChannel(t, target)

	var progress []int
	c, err := New(ch, WithProgress(func(written, total int) {
		if total != 300 {
			t.Errorf("progress total = %d, want 300", total)
		}
		progress = append(progress, written)
	}))
	if err != nil {
		t.Fatal(err)
	}

	img := image(300)
	if err := c.Flash(context.Background(), bytes.NewReader(img), len(img), DefaultAddress); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if c.State() != StateJumped {
		t.Errorf("State() = %s, want jumped", c.State())
	}
	if c.Address() != DefaultAddress+300 {
		t.Errorf("Address() = 0x%08X", c.Address())
	}
	if !bytes.Equal(target.Memory()[:300], img) {
		t.Error("flash content differs from image")
	}
	if addr, ok := target.Jumped(); !ok || addr != DefaultAddress {
		t.Errorf("Jumped() = 0x%08X, %v", addr, ok)
	}
	if len(progress) != 2 || progress[0] != 256 || progress[1] != 300 {
		t.Errorf("progress = %v", progress)
	}

	sent := drv.Sent()
	headers := sentOn(sent, CmdWriteMemory)
	if len(headers) != 2 {
		t.Fatalf("sent %d write headers, want 2", len(headers))
	}
	wantHeaders := [][]byte{
		{0x08, 0x00, 0x00, 0x00, 0xFF},
		{0x08, 0x00, 0x01, 0x00, 43},
	}
	for i, h := range headers {
		if got := h.Data[:h.Len]; !bytes.Equal(got, wantHeaders[i]) {
			t.Errorf("header %d = % X, want % X", i, got, wantHeaders[i])
		}
	}
	if n := len(sentOn(sent, CmdWriteData)); n != 32+6 {
		t.Errorf("sent %d data frames, want 38", n)
	}
	if n := len(sentOn(sent, CmdSync)); n != 1 {
		t.Errorf("sent %d sync frames, want 1", n)
	}
	if n := len(sentOn(sent, CmdGo)); n != 1 {
		t.Errorf("sent %d go frames, want 1", n)
	}
}

func TestWriteFrameOrder(t *testing.T) {
	target := NewTarget(DefaultAddress, 1024)
	ch, drv := openChannel(t, target)
	c, err := New(ch)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Erase(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, DefaultAddress, bytes.NewReader(image(20))); err != nil {
		t.Fatal(err)
	}

	var ids []uint32
	for _, m := range drv.Sent() {
		ids = append(ids, m.ID)
	}
	want := []uint32{CmdSync, CmdErase, CmdWriteMemory, CmdWriteData, CmdWriteData, CmdWriteData}
	if len(ids) != len(want) {
		t.Fatalf("sent %X, want %X", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("sent %X, want %X", ids, want)
		}
	}
	if c.State() != StateErased {
		t.Errorf("State() = %s, want erased", c.State())
	}
}

func TestNewNegotiatesFilters(t *testing.T) {
	tests := []struct {
		name     string
		caps     canflash.FilterCapabilities
		strategy canflash.Strategy
		filters  []canflash.Filter
		wantErr  error
	}{
		{
			name:     "exact list",
			caps:     canflash.FilterCapabilities{Slots: 4},
			strategy: canflash.StrategyExactList,
			filters: []canflash.Filter{
				canflash.NewStandardFilter(0x79),
				canflash.NewStandardFilter(0x43),
				canflash.NewStandardFilter(0x31),
				canflash.NewStandardFilter(0x21),
			},
		},
		{
			name:     "masked",
			caps:     canflash.FilterCapabilities{Slots: 1, Mask: true},
			strategy: canflash.StrategyMasked,
			filters:  []canflash.Filter{{ID: 0x01, Mask: 0x784}},
		},
		{
			name:    "insufficient",
			caps:    canflash.FilterCapabilities{Slots: 1},
			wantErr: canflash.ErrInsufficientFilterCapacity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, drv := openChannel(t, nil, virtual.WithCapabilities(tt.caps))
			c, err := New(ch)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.Negotiation().Strategy != tt.strategy {
				t.Errorf("strategy = %s, want %s", c.Negotiation().Strategy, tt.strategy)
			}
			got := drv.Filters()
			if len(got) != len(tt.filters) {
				t.Fatalf("installed %v, want %v", got, tt.filters)
			}
			for i := range got {
				if got[i] != tt.filters[i] {
					t.Errorf("filter %d = %s, want %s", i, got[i], tt.filters[i])
				}
			}
		})
	}
}

func TestNewTwiceOnSameChannel(t *testing.T) {
	ch, _ := openChannel(t, nil)
	if _, err := New(ch); err != nil {
		t.Fatal(err)
	}
	if _, err := New(ch); !errors.Is(err, canflash.ErrFilterAlreadyConfigured) {
		t.Fatalf("second New() error = %v, want ErrFilterAlreadyConfigured", err)
	}
}

func frame(t *testing.T, id uint32, data ...byte) canflash.Frame {
	t.Helper()
	f, err := canflash.NewStandardFrame(id, data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestEnable(t *testing.T) {
	tests := []struct {
		name    string
		reply   func(t *testing.T) []canflash.Frame
		wantErr error
	}{
		{
			name:  "ack",
			reply: func(t *testing.T) []canflash.Frame { return []canflash.Frame{frame(t, 0x79, 0x79)} },
		},
		{
			name: "unrelated traffic before ack",
			reply: func(t *testing.T) []canflash.Frame {
				return []canflash.Frame{frame(t, 0x03, 0xAA), frame(t, 0x79, 0x79)}
			},
		},
		{
			name:    "nack",
			reply:   func(t *testing.T) []canflash.Frame { return []canflash.Frame{frame(t, 0x79, 0x1F)} },
			wantErr: ErrProtocolViolation,
		},
		{
			name:    "ack too long",
			reply:   func(t *testing.T) []canflash.Frame { return []canflash.Frame{frame(t, 0x79, 0x79, 0x00)} },
			wantErr: ErrProtocolViolation,
		},
		{
			name:    "ack on other command",
			reply:   func(t *testing.T) []canflash.Frame { return []canflash.Frame{frame(t, 0x43, 0x79)} },
			wantErr: ErrProtocolViolation,
		},
		{
			name:    "no answer",
			reply:   func(t *testing.T) []canflash.Frame { return nil },
			wantErr: canflash.ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := virtual.ResponderFunc(func(f canflash.Frame) []canflash.Frame {
				if f.Identifier() != CmdSync {
					return nil
				}
				return tt.reply(t)
			})
			// a single masked entry lets 0x03 through
			ch, _ := openChannel(t, r, virtual.WithCapabilities(canflash.FilterCapabilities{Slots: 1, Mask: true}))
			c, err := New(ch)
			if err != nil {
				t.Fatal(err)
			}
			err = c.Enable(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Enable() error = %v", err)
				}
				if c.State() != StateEnabled {
					t.Errorf("State() = %s, want enabled", c.State())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Enable() error = %v, want %v", err, tt.wantErr)
			}
			if c.State() != StateCreated {
				t.Errorf("State() = %s, want created", c.State())
			}
			if errors.Is(tt.wantErr, ErrProtocolViolation) {
				var ua *UnexpectedAckError
				if !errors.As(err, &ua) || ua.Command != CmdSync {
					t.Errorf("error %v does not carry the offending frame", err)
				}
			}
		})
	}
}

func TestEraseSingleAckDoesNotAdvance(t *testing.T) {
	target := NewTarget(DefaultAddress, 1024)
	target.EraseAcks = 1
	ch, _ := openChannel(t, target)
	c, err := New(ch)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Erase(ctx); !errors.Is(err, canflash.ErrTimeout) {
		t.Fatalf("Erase() error = %v, want ErrTimeout", err)
	}
	if c.State() != StateEnabled {
		t.Errorf("State() = %s, want enabled", c.State())
	}
}

func TestInvalidState(t *testing.T) {
	target := NewTarget(DefaultAddress, 1024)
	ch, _ := openChannel(t, target)
	c, err := New(ch)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := c.Erase(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Erase() before Enable = %v", err)
	}
	if err := c.Write(ctx, DefaultAddress, bytes.NewReader(image(4))); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Write() before Erase = %v", err)
	}
	if err := c.Go(ctx, DefaultAddress); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Go() before Erase = %v", err)
	}
	if err := c.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	// Enable restarts the sequence
	if err := c.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Erase(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Go(ctx, DefaultAddress); err != nil {
		t.Fatal(err)
	}
	if err := c.Enable(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Enable() after jump = %v", err)
	}
}

func TestFailedWriteRequiresRestart(t *testing.T) {
	target := NewTarget(DefaultAddress, 256)
	ch, _ := openChannel(t, target)
	c, err := New(ch)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := c.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Erase(ctx); err != nil {
		t.Fatal(err)
	}
	err = c.Write(ctx, DefaultAddress, bytes.NewReader(image(300)))
	var ua *UnexpectedAckError
	if !errors.As(err, &ua) {
		t.Fatalf("Write() error = %v, want *UnexpectedAckError", err)
	}
	if ua.Command != CmdWriteMemory {
		t.Errorf("rejected command = 0x%02X", ua.Command)
	}
	if c.State() != StateWriting {
		t.Errorf("State() = %s, want writing", c.State())
	}
	if err := c.Go(ctx, DefaultAddress); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Go() after failed write = %v", err)
	}
}

// unsized hides the Len method of the wrapped reader.
type unsized struct{ r io.Reader }

func (u unsized) Read(p []byte) (int, error) { return u.r.Read(p) }

func TestWriteAddressRange(t *testing.T) {
	tests := []struct {
		name      string
		addr      uint32
		size      int
		sized     bool
		wantErr   bool
		wantState State
		headers   int
	}{
		{"ends at 4 GiB", 0xFFFFFF00, 256, true, false, StateErased, 1},
		{"sized past 4 GiB", 0xFFFFFF80, 256, true, true, StateErased, 0},
		{"unsized past 4 GiB", 0xFFFFFF80, 256, false, true, StateWriting, 0},
		{"second block past 4 GiB", 0xFFFFFF00, 300, false, true, StateWriting, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, drv := openChannel(t, NewTarget(0xFFFFFF00, 256))
			c, err := New(ch)
			if err != nil {
				t.Fatal(err)
			}
			ctx := context.Background()
			if err := c.Enable(ctx); err != nil {
				t.Fatal(err)
			}
			if err := c.Erase(ctx); err != nil {
				t.Fatal(err)
			}

			var r io.Reader = bytes.NewReader(image(tt.size))
			if !tt.sized {
				r = unsized{r}
			}
			err = c.Write(ctx, tt.addr, r)
			if tt.wantErr != errors.Is(err, ErrAddressRange) {
				t.Fatalf("Write() error = %v, want ErrAddressRange %v", err, tt.wantErr)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if c.State() != tt.wantState {
				t.Errorf("State() = %s, want %s", c.State(), tt.wantState)
			}
			if n := len(sentOn(drv.Sent(), CmdWriteMemory)); n != tt.headers {
				t.Errorf("%d write headers sent, want %d", n, tt.headers)
			}
		})
	}
}

type plainBus struct {
	ch *canflash.Channel
}

func (b plainBus) Transmit(f canflash.Frame) error          { return b.ch.Transmit(f) }
func (b plainBus) ReceiveBlocking() (canflash.Frame, error) { return b.ch.ReceiveBlocking() }

func TestBusWithoutFilters(t *testing.T) {
	drv := virtual.New(NewTarget(DefaultAddress, 1024))
	ch, err := canflash.Open(drv,
		canflash.WithDefaultFilterPolicy(canflash.PolicyAcceptAll),
		canflash.WithReadTimeout(100*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	c, err := New(plainBus{ch})
	if err != nil {
		t.Fatal(err)
	}
	if c.Negotiation() != nil {
		t.Error("negotiated a filter on a bus without filter support")
	}
	// stray traffic is dropped in software
	drv.Inject(frame(t, 0x100, 1, 2, 3))
	if err := c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	ch, drv := openChannel(t, NewTarget(DefaultAddress, 1024))
	c, err := New(ch)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Enable(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Enable() error = %v, want context.Canceled", err)
	}
	if len(drv.Sent()) != 0 {
		t.Error("frames sent with a canceled context")
	}
}
