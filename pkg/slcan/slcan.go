package slcan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/canflash"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
)

const queueSize = 1024

var capabilities = canflash.FilterCapabilities{Slots: 1, Mask: true}

func init() {
	if err := canflash.RegisterDriver(&canflash.DriverInfo{
		Name:               "slcan",
		Description:        "Lawicel / CANable serial line CAN adapter",
		RequiresSerialPort: true,
		Capabilities:       capabilities,
		New:                New,
	}); err != nil {
		panic(err)
	}
}

// Driver talks to an SLCAN adapter over a serial port. A reader goroutine
// decodes incoming frames into a bounded queue; acceptance filtering is done
// in software as frames are queued.
type Driver struct {
	cfg  *canflash.DriverConfig
	port serial.Port

	mu          sync.Mutex
	queue       []canflash.Msg
	overrun     bool
	readErr     error
	filterState uint64
	filter      canflash.Filter
	open        bool

	notify chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	eg     *errgroup.Group
}

func New(cfg *canflash.DriverConfig) (canflash.Driver, error) {
	if cfg.Port == "" {
		return nil, errors.New("slcan: no serial port given")
	}
	if cfg.PortBaudrate == 0 {
		cfg.PortBaudrate = 115200
	}
	return newDriver(cfg), nil
}

func newDriver(cfg *canflash.DriverConfig) *Driver {
	return &Driver{
		cfg:         cfg,
		filterState: canflash.FilterOpen,
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (d *Driver) Initialize(t canflash.Timing) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return canflash.StatusIllegalOperation
	}
	rate, err := bitrateCommand(t)
	if err != nil {
		d.cfg.OnMessage(err.Error())
		return canflash.StatusIllegalValue
	}
	mode := &serial.Mode{
		BaudRate: d.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(d.cfg.Port, mode)
	if err != nil {
		d.cfg.OnMessage(fmt.Sprintf("failed to open com port %q: %v", d.cfg.Port, err))
		return canflash.StatusNoDriver
	}
	if err := p.SetReadTimeout(5 * time.Millisecond); err != nil {
		p.Close()
		return canflash.StatusResource
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	// close first in case the adapter was left open
	for _, cmd := range []string{"C", rate, "O"} {
		if d.cfg.Debug {
			log.Println(">> " + cmd)
		}
		if _, err := p.Write([]byte(cmd + "\r")); err != nil {
			p.Close()
			d.cfg.OnMessage(fmt.Sprintf("failed to write to com port: %v", err))
			return canflash.StatusIllegalHardware
		}
		time.Sleep(10 * time.Millisecond)
	}

	d.port = p
	d.open = true
	d.queue = d.queue[:0]
	d.readErr = nil
	d.filterState = canflash.FilterOpen
	d.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.eg, ctx = errgroup.WithContext(ctx)
	d.eg.Go(func() error {
		return d.recvManager(ctx)
	})
	return canflash.StatusOK
}

func (d *Driver) Uninitialize() canflash.Status {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return canflash.StatusNotInitialized
	}
	d.open = false
	close(d.done)
	d.cancel()
	port := d.port
	d.mu.Unlock()

	port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	closeErr := port.Close()
	if err := d.eg.Wait(); err != nil && d.cfg.Debug {
		d.cfg.OnMessage(err.Error())
	}
	if closeErr != nil {
		return canflash.StatusResource
	}
	return canflash.StatusOK
}

func (d *Driver) recvManager(ctx context.Context) error {
	buf := make([]byte, 0, 64)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := d.port.Read(readBuf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.mu.Lock()
			d.readErr = fmt.Errorf("failed to read com port: %w", err)
			d.mu.Unlock()
			d.signal()
			return err
		}
		if n == 0 {
			continue
		}
		buf = d.parse(buf, readBuf[:n])
	}
	return nil
}

// parse consumes readBuf and returns any trailing partial line.
func (d *Driver) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) > 0 {
				d.handleLine(buf)
			}
			buf = buf[:0]
		case 0x07: // BELL, the adapter rejected a command
			d.cfg.OnMessage("slcan: adapter returned error")
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func (d *Driver) handleLine(line []byte) {
	switch line[0] {
	case 't', 'T', 'r', 'R':
	case 'z', 'Z':
		// transmit acknowledgements
		return
	default:
		if d.cfg.Debug {
			d.cfg.OnMessage("Unknown>> " + string(line))
		}
		return
	}
	if d.cfg.Debug {
		log.Printf("<< %s", line)
	}
	msg, err := decodeFrame(line)
	if err != nil {
		d.cfg.OnMessage(fmt.Sprintf("%v: %X", err, line))
		return
	}
	d.mu.Lock()
	if !d.accepts(msg) {
		d.mu.Unlock()
		return
	}
	if len(d.queue) >= queueSize {
		d.overrun = true
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, msg)
	d.mu.Unlock()
	d.signal()
}

func (d *Driver) accepts(msg canflash.Msg) bool {
	switch d.filterState {
	case canflash.FilterClosed:
		return false
	case canflash.FilterCustom:
		return d.filter.Matches(canflash.Decode(msg))
	default:
		return true
	}
}

func (d *Driver) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Driver) Read(msg *canflash.Msg) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		if d.readErr != nil {
			return canflash.StatusIllegalHardware
		}
		if d.overrun {
			d.overrun = false
			return canflash.StatusQueueOverrun
		}
		return canflash.StatusQueueEmpty
	}
	*msg = d.queue[0]
	d.queue = d.queue[1:]
	return canflash.StatusOK
}

func (d *Driver) Write(msg *canflash.Msg) canflash.Status {
	d.mu.Lock()
	open, port := d.open, d.port
	d.mu.Unlock()
	if !open {
		return canflash.StatusNotInitialized
	}
	buf := encodeFrame(msg)
	if d.cfg.Debug {
		log.Println(">> " + string(buf[:len(buf)-1]))
	}
	if _, err := port.Write(buf); err != nil {
		d.cfg.OnMessage(fmt.Sprintf("failed to write to com port: %v", err))
		return canflash.StatusIllegalHardware
	}
	return canflash.StatusOK
}

func (d *Driver) GetValue(p canflash.Parameter) (uint64, canflash.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch p {
	case canflash.ParamMessageFilter:
		return d.filterState, canflash.StatusOK
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		if d.filterState != canflash.FilterCustom {
			return 0, canflash.StatusIllegalValue
		}
		return canflash.AcceptanceValue(d.filter.ID, d.filter.Mask), canflash.StatusOK
	default:
		return 0, canflash.StatusIllegalParameter
	}
}

func (d *Driver) SetValue(p canflash.Parameter, value uint64) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch p {
	case canflash.ParamMessageFilter:
		if value != canflash.FilterClosed && value != canflash.FilterOpen {
			return canflash.StatusIllegalValue
		}
		d.filterState = value
		return canflash.StatusOK
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		if d.filterState == canflash.FilterCustom {
			return canflash.StatusIllegalOperation
		}
		code, mask := canflash.SplitAcceptance(value)
		d.filter = canflash.Filter{Extended: p == canflash.ParamAcceptance29Bit, ID: code, Mask: mask}
		d.filterState = canflash.FilterCustom
		return canflash.StatusOK
	case canflash.ParamAllowStatusFrames, canflash.ParamReceiveEvent:
		// the adapter never reports status frames; readiness is signalled internally
		return canflash.StatusOK
	default:
		return canflash.StatusIllegalParameter
	}
}

func (d *Driver) ErrorText(st canflash.Status) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st == canflash.StatusIllegalHardware && d.readErr != nil {
		return d.readErr.Error()
	}
	return st.String()
}

func (d *Driver) NewEvent() (canflash.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &chanEvent{notify: d.notify, done: d.done}, nil
}

func (d *Driver) FilterCapabilities() canflash.FilterCapabilities {
	return capabilities
}

// chanEvent is signalled by the reader goroutine whenever it queues a frame.
type chanEvent struct {
	notify <-chan struct{}
	done   <-chan struct{}
}

func (e *chanEvent) Handle() uint64 { return 0 }

func (e *chanEvent) Wait(timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-e.notify:
		return nil
	case <-e.done:
		return canflash.ErrChannelClosed
	case <-expired:
		return canflash.ErrTimeout
	}
}

func (e *chanEvent) Close() error { return nil }
