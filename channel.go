package canflash

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/canflash/pkg/metrics"
)

type ChannelState int32

const (
	StateUninitialized ChannelState = iota
	StateOpen
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel owns one native CAN channel.
//
// A Channel has one logical owner. The halves returned by Split may be used
// from two goroutines, one transmitting and one receiving; two concurrent
// receivers race on the same queue.
type Channel struct {
	driver Driver
	cfg    channelConfig
	event  Event

	state    atomic.Int32
	blocking atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Open initializes the driver, suppresses status frames, binds a receive
// event, applies the default filter policy and drains whatever the hardware
// queued in the meantime. Every failure after a successful initialization
// releases the native channel before returning.
func Open(d Driver, opts ...ChannelOption) (*Channel, error) {
	if d == nil {
		return nil, ErrNilDriver
	}
	cfg := defaultChannelConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	c := &Channel{
		driver: d,
		cfg:    cfg,
	}
	c.blocking.Store(cfg.blocking)

	if st := d.Initialize(cfg.timing); st != StatusOK {
		return nil, newTransportError(d, "initialize", st)
	}

	ok := false
	defer func() {
		if !ok {
			c.state.Store(int32(StateClosed))
			c.closeOnce.Do(c.release)
		}
	}()

	if st := d.SetValue(ParamAllowStatusFrames, ParameterOff); st != StatusOK {
		return nil, newTransportError(d, "disable status frames", st)
	}

	ev, err := d.NewEvent()
	if err != nil {
		return nil, fmt.Errorf("create receive event: %w", err)
	}
	c.event = ev
	if st := d.SetValue(ParamReceiveEvent, ev.Handle()); st != StatusOK {
		return nil, newTransportError(d, "bind receive event", st)
	}

	policy := FilterClosed
	if cfg.defaultFilter == PolicyAcceptAll {
		policy = FilterOpen
	}
	if st := d.SetValue(ParamMessageFilter, policy); st != StatusOK {
		return nil, newTransportError(d, "set default filter", st)
	}

	c.state.Store(int32(StateOpen))
	n, err := c.drain()
	if err != nil {
		return nil, fmt.Errorf("drain receive queue: %w", err)
	}
	if n > 0 {
		c.emit(LevelDebug, fmt.Sprintf("drained %d stale frames", n))
	}
	c.emit(LevelInfo, fmt.Sprintf("channel open, timing %s, default filter %s", cfg.timing, cfg.defaultFilter))

	ok = true
	return c, nil
}

func (c *Channel) drain() (int, error) {
	n := 0
	for {
		_, err := c.ReceiveNonBlocking()
		if errors.Is(err, ErrWouldBlock) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		metrics.IncDrained()
		n++
	}
}

func (c *Channel) State() ChannelState {
	return ChannelState(c.state.Load())
}

func (c *Channel) checkOpen() error {
	if c.State() != StateOpen {
		return ErrChannelClosed
	}
	return nil
}

// Transmit queues f for transmission and returns without waiting for the bus.
func (c *Channel) Transmit(f Frame) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	msg := f.Encode()
	if st := c.driver.Write(&msg); st != StatusOK {
		metrics.IncError(metrics.ErrTransmit)
		return newTransportError(c.driver, "write", st)
	}
	metrics.IncTx()
	if c.cfg.debug {
		c.emit(LevelDebug, "<o> || "+f.String())
	}
	return nil
}

// ReceiveNonBlocking polls the receive queue once. It returns ErrWouldBlock
// when the queue is empty.
func (c *Channel) ReceiveNonBlocking() (Frame, error) {
	if err := c.checkOpen(); err != nil {
		return Frame{}, err
	}
	var msg Msg
	switch st := c.driver.Read(&msg); st {
	case StatusOK:
		metrics.IncRx()
		f := Decode(msg)
		if c.cfg.debug {
			c.emit(LevelDebug, "<i> || "+f.String())
		}
		return f, nil
	case StatusQueueEmpty:
		return Frame{}, ErrWouldBlock
	default:
		metrics.IncError(metrics.ErrReceive)
		return Frame{}, newTransportError(c.driver, "read", st)
	}
}

// ReceiveBlocking polls the queue and, while it is empty, parks the calling
// goroutine's OS thread on the receive event. It never spins. With a read
// timeout configured it gives up with ErrTimeout; otherwise it waits until a
// frame arrives or the channel is closed from another goroutine.
func (c *Channel) ReceiveBlocking() (Frame, error) {
	var deadline time.Time
	if c.cfg.readTimeout > 0 {
		deadline = time.Now().Add(c.cfg.readTimeout)
	}
	for {
		f, err := c.ReceiveNonBlocking()
		if !errors.Is(err, ErrWouldBlock) {
			return f, err
		}
		var wait time.Duration
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return Frame{}, ErrTimeout
			}
		}
		// c.event is fixed once the channel is open; Close only signals it.
		if err := c.event.Wait(wait); err != nil {
			if c.State() != StateOpen {
				return Frame{}, ErrChannelClosed
			}
			return Frame{}, err
		}
	}
}

// Receive is ReceiveBlocking in blocking mode and ReceiveNonBlocking
// otherwise.
func (c *Channel) Receive() (Frame, error) {
	if c.blocking.Load() {
		return c.ReceiveBlocking()
	}
	return c.ReceiveNonBlocking()
}

func (c *Channel) SetBlocking(blocking bool) {
	c.blocking.Store(blocking)
}

func (c *Channel) IsBlocking() bool {
	return c.blocking.Load()
}

func (c *Channel) FilterCapabilities() FilterCapabilities {
	return c.driver.FilterCapabilities()
}

// AddFilter installs one filter configuration. A configuration is either the
// wildcard filter alone or up to FilterCapabilities().Slots acceptance
// entries. It fails with ErrFilterAlreadyConfigured when the device already
// reports a custom filter; call ClearFilters first to replace it.
func (c *Channel) AddFilter(filters ...Filter) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if len(filters) == 0 {
		return errors.New("no filter given")
	}

	state, st := c.driver.GetValue(ParamMessageFilter)
	if st != StatusOK {
		metrics.IncError(metrics.ErrFilter)
		return newTransportError(c.driver, "read filter state", st)
	}
	if state == FilterCustom {
		return ErrFilterAlreadyConfigured
	}

	for _, f := range filters {
		if f.AcceptAll {
			if len(filters) > 1 {
				return errors.New("the wildcard filter cannot be combined with other filters")
			}
			if st := c.driver.SetValue(ParamMessageFilter, FilterOpen); st != StatusOK {
				metrics.IncError(metrics.ErrFilter)
				return newTransportError(c.driver, "open filter", st)
			}
			c.emit(LevelInfo, "filter: accept all")
			return nil
		}
	}

	caps := c.driver.FilterCapabilities()
	if len(filters) > caps.Slots {
		return fmt.Errorf("%w: %d filters, %d slots", ErrInsufficientFilterCapacity, len(filters), caps.Slots)
	}
	for _, f := range filters {
		width := uint32(MaxStandardID)
		if f.Extended {
			width = MaxExtendedID
		}
		if f.ID > width {
			return fmt.Errorf("%w: filter identifier 0x%X out of range", ErrInvalidFrame, f.ID)
		}
		if f.Mask&width != width && !caps.Mask {
			return fmt.Errorf("%w: masked filter %s not supported", ErrInsufficientFilterCapacity, f)
		}
	}

	for _, f := range filters {
		param := ParamAcceptance11Bit
		if f.Extended {
			param = ParamAcceptance29Bit
		}
		if st := c.driver.SetValue(param, AcceptanceValue(f.ID, f.Mask)); st != StatusOK {
			metrics.IncError(metrics.ErrFilter)
			return newTransportError(c.driver, "set acceptance filter", st)
		}
		c.emit(LevelInfo, "filter: "+f.String())
	}
	return nil
}

// ClearFilters closes the filter so that no frame is received. Accepting
// everything requires AddFilter(AcceptAll()).
func (c *Channel) ClearFilters() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if st := c.driver.SetValue(ParamMessageFilter, FilterClosed); st != StatusOK {
		metrics.IncError(metrics.ErrFilter)
		return newTransportError(c.driver, "close filter", st)
	}
	c.emit(LevelInfo, "filter: reject all")
	return nil
}

// Split returns a receive half and a transmit half sharing the channel. The
// channel itself keeps ownership and must still be closed.
func (c *Channel) Split() (*Rx, *Tx) {
	return &Rx{c: c}, &Tx{c: c}
}

// Close releases the native channel. It is safe to call more than once;
// only the first call reaches the driver.
func (c *Channel) Close() error {
	err := ErrChannelClosed
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.release()
		err = c.closeErr
	})
	if errors.Is(err, ErrChannelClosed) {
		return nil
	}
	return err
}

func (c *Channel) release() {
	if st := c.driver.Uninitialize(); st != StatusOK {
		c.closeErr = newTransportError(c.driver, "uninitialize", st)
	}
	if c.event != nil {
		if err := c.event.Close(); err != nil && c.closeErr == nil {
			c.closeErr = fmt.Errorf("close receive event: %w", err)
		}
	}
}

// EventLevel grades a ChannelEvent. Lower is more severe.
type EventLevel int

const (
	LevelError EventLevel = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

var levelNames = [...]string{"error", "warning", "info", "debug"}

func (l EventLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ChannelEvent is a diagnostic notice from a Channel, such as stale frames
// drained on open or a filter change.
type ChannelEvent struct {
	Time    time.Time
	Level   EventLevel
	Message string
}

func (e ChannelEvent) String() string {
	return e.Level.String() + ": " + e.Message
}

// emit hands ev to the WithOnEvent callback when one is set. Without one,
// errors and warnings are logged always and the rest only in debug mode.
func (c *Channel) emit(level EventLevel, msg string) {
	ev := ChannelEvent{Time: time.Now(), Level: level, Message: msg}
	if c.cfg.onEvent != nil {
		c.cfg.onEvent(ev)
		return
	}
	if c.cfg.debug || level <= LevelWarning {
		logMessage(ev.String())
	}
}

// Rx is the receiving half of a Channel.
type Rx struct {
	c *Channel
}

func (r *Rx) ReceiveNonBlocking() (Frame, error)     { return r.c.ReceiveNonBlocking() }
func (r *Rx) ReceiveBlocking() (Frame, error)        { return r.c.ReceiveBlocking() }
func (r *Rx) Receive() (Frame, error)                { return r.c.Receive() }
func (r *Rx) FilterCapabilities() FilterCapabilities { return r.c.FilterCapabilities() }
func (r *Rx) AddFilter(filters ...Filter) error      { return r.c.AddFilter(filters...) }
func (r *Rx) ClearFilters() error                    { return r.c.ClearFilters() }

// Tx is the transmitting half of a Channel.
type Tx struct {
	c *Channel
}

func (t *Tx) Transmit(f Frame) error { return t.c.Transmit(f) }
