// Package virtual is an in-memory CAN driver. Transmitted frames are handed
// to a Responder whose replies are queued for reception, which makes it
// usable for dry runs and for tests that need no hardware.
package virtual

import (
	"math"
	"sync"
	"time"

	"github.com/roffe/canflash"
)

func init() {
	if err := canflash.RegisterDriver(&canflash.DriverInfo{
		Name:         "virtual",
		Description:  "In-memory bus, answered by DriverConfig.Responder when set",
		Capabilities: Unlimited,
		New: func(cfg *canflash.DriverConfig) (canflash.Driver, error) {
			var r Responder
			if cfg.Responder != nil {
				r = ResponderFunc(cfg.Responder)
			}
			return New(r, WithDebug(cfg.Debug, cfg.OnMessage)), nil
		},
	}); err != nil {
		panic(err)
	}
}

// Unlimited is the default capability of a virtual driver.
var Unlimited = canflash.FilterCapabilities{Slots: math.MaxInt32, Mask: true}

// Responder is the simulated remote node.
type Responder interface {
	Respond(canflash.Frame) []canflash.Frame
}

type ResponderFunc func(canflash.Frame) []canflash.Frame

func (f ResponderFunc) Respond(frame canflash.Frame) []canflash.Frame {
	return f(frame)
}

// Op names a driver operation for failure injection.
type Op int

const (
	OpInitialize Op = iota
	OpUninitialize
	OpRead
	OpWrite
	OpGetValue
	OpSetValue
)

type Option func(*Driver)

func WithCapabilities(caps canflash.FilterCapabilities) Option {
	return func(d *Driver) {
		d.caps = caps
	}
}

func WithDebug(debug bool, onMessage func(string)) Option {
	return func(d *Driver) {
		d.debug = debug
		d.onMessage = onMessage
	}
}

// Driver implements canflash.Driver in memory.
type Driver struct {
	responder Responder
	caps      canflash.FilterCapabilities
	debug     bool
	onMessage func(string)

	mu          sync.Mutex
	initialized bool
	queue       []canflash.Msg
	sent        []canflash.Msg
	filterState uint64
	filters     []canflash.Filter
	failures    map[Op]canflash.Status
	params      map[canflash.Parameter]uint64
	events      []*event
}

func New(r Responder, opts ...Option) *Driver {
	d := &Driver{
		responder:   r,
		caps:        Unlimited,
		filterState: canflash.FilterOpen,
		failures:    make(map[Op]canflash.Status),
		params:      make(map[canflash.Parameter]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fail makes op return st until Fail(op, canflash.StatusOK) is called.
func (d *Driver) Fail(op Op, st canflash.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st == canflash.StatusOK {
		delete(d.failures, op)
		return
	}
	d.failures[op] = st
}

// Inject queues frames as if they had arrived from the bus. Frames rejected
// by the current filter are dropped.
func (d *Driver) Inject(frames ...canflash.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliver(frames)
}

// Sent returns every message written so far.
func (d *Driver) Sent() []canflash.Msg {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]canflash.Msg(nil), d.sent...)
}

// Filters returns the installed acceptance entries.
func (d *Driver) Filters() []canflash.Filter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]canflash.Filter(nil), d.filters...)
}

func (d *Driver) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Pending is the number of queued frames.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Driver) failure(op Op) canflash.Status {
	if st, ok := d.failures[op]; ok {
		return st
	}
	return canflash.StatusOK
}

func (d *Driver) deliver(frames []canflash.Frame) {
	n := 0
	for _, f := range frames {
		if !d.accepts(f) {
			continue
		}
		d.queue = append(d.queue, f.Encode())
		n++
	}
	if n == 0 {
		return
	}
	for _, e := range d.events {
		e.signal()
	}
}

func (d *Driver) accepts(f canflash.Frame) bool {
	switch d.filterState {
	case canflash.FilterClosed:
		return false
	case canflash.FilterCustom:
		for _, flt := range d.filters {
			if flt.Matches(f) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (d *Driver) Initialize(canflash.Timing) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.failure(OpInitialize); st != canflash.StatusOK {
		return st
	}
	if d.initialized {
		return canflash.StatusHardwareInUse
	}
	d.initialized = true
	return canflash.StatusOK
}

func (d *Driver) Uninitialize() canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.failure(OpUninitialize); st != canflash.StatusOK {
		return st
	}
	if !d.initialized {
		return canflash.StatusNotInitialized
	}
	d.initialized = false
	d.filterState = canflash.FilterOpen
	d.filters = nil
	d.queue = nil
	for _, e := range d.events {
		e.shutdown()
	}
	d.events = nil
	return canflash.StatusOK
}

func (d *Driver) Read(msg *canflash.Msg) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.failure(OpRead); st != canflash.StatusOK {
		return st
	}
	if !d.initialized {
		return canflash.StatusNotInitialized
	}
	if len(d.queue) == 0 {
		return canflash.StatusQueueEmpty
	}
	*msg = d.queue[0]
	d.queue = d.queue[1:]
	return canflash.StatusOK
}

func (d *Driver) Write(msg *canflash.Msg) canflash.Status {
	d.mu.Lock()
	if st := d.failure(OpWrite); st != canflash.StatusOK {
		d.mu.Unlock()
		return st
	}
	if !d.initialized {
		d.mu.Unlock()
		return canflash.StatusNotInitialized
	}
	d.sent = append(d.sent, *msg)
	r := d.responder
	d.mu.Unlock()

	if r == nil {
		return canflash.StatusOK
	}
	replies := r.Respond(canflash.Decode(*msg))
	if d.debug && d.onMessage != nil && len(replies) > 0 {
		d.onMessage("virtual: responder replied with " + replies[0].String())
	}
	d.mu.Lock()
	d.deliver(replies)
	d.mu.Unlock()
	return canflash.StatusOK
}

func (d *Driver) GetValue(p canflash.Parameter) (uint64, canflash.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.failure(OpGetValue); st != canflash.StatusOK {
		return 0, st
	}
	switch p {
	case canflash.ParamMessageFilter:
		return d.filterState, canflash.StatusOK
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		if len(d.filters) == 0 {
			return 0, canflash.StatusIllegalValue
		}
		f := d.filters[len(d.filters)-1]
		return canflash.AcceptanceValue(f.ID, f.Mask), canflash.StatusOK
	default:
		v, ok := d.params[p]
		if !ok {
			return 0, canflash.StatusIllegalParameter
		}
		return v, canflash.StatusOK
	}
}

func (d *Driver) SetValue(p canflash.Parameter, value uint64) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.failure(OpSetValue); st != canflash.StatusOK {
		return st
	}
	if !d.initialized {
		return canflash.StatusNotInitialized
	}
	switch p {
	case canflash.ParamMessageFilter:
		if value != canflash.FilterClosed && value != canflash.FilterOpen {
			return canflash.StatusIllegalValue
		}
		d.filterState = value
		d.filters = nil
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		code, mask := canflash.SplitAcceptance(value)
		f := canflash.Filter{Extended: p == canflash.ParamAcceptance29Bit, ID: code, Mask: mask}
		if d.filterState != canflash.FilterCustom {
			d.filters = nil
		}
		if len(d.filters) >= d.caps.Slots {
			return canflash.StatusIllegalOperation
		}
		if !d.caps.Mask {
			width := uint32(canflash.MaxStandardID)
			if f.Extended {
				width = canflash.MaxExtendedID
			}
			if mask&width != width {
				return canflash.StatusIllegalValue
			}
		}
		d.filters = append(d.filters, f)
		d.filterState = canflash.FilterCustom
	default:
		d.params[p] = value
	}
	return canflash.StatusOK
}

func (d *Driver) ErrorText(st canflash.Status) string {
	return st.String()
}

func (d *Driver) NewEvent() (canflash.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := &event{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		handle: uint64(len(d.events) + 1),
	}
	if len(d.queue) > 0 {
		e.signal()
	}
	d.events = append(d.events, e)
	return e, nil
}

func (d *Driver) FilterCapabilities() canflash.FilterCapabilities {
	return d.caps
}

type event struct {
	handle   uint64
	notify   chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func (e *event) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *event) shutdown() {
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *event) Handle() uint64 { return e.handle }

func (e *event) Wait(timeout time.Duration) error {
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

func (e *event) Close() error {
	e.shutdown()
	return nil
}
