//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/roffe/canflash"
	"golang.org/x/sys/unix"
)

const maxFilters = 16

var capabilities = canflash.FilterCapabilities{Slots: maxFilters, Mask: true}

func init() {
	if err := canflash.RegisterDriver(&canflash.DriverInfo{
		Name:         "socketcan",
		Description:  "Linux SocketCAN raw socket",
		Capabilities: capabilities,
		New:          New,
	}); err != nil {
		panic(err)
	}
}

// Driver is a non-blocking CAN_RAW socket bound to one interface. The bus
// bitrate is whatever the interface was configured with.
type Driver struct {
	cfg *canflash.DriverConfig

	mu          sync.Mutex
	iface       *net.Interface
	fd          int
	filterState uint64
	filters     []rawFilter
}

func New(cfg *canflash.DriverConfig) (canflash.Driver, error) {
	name := cfg.Channel
	if name == "" {
		name = "can0"
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("socketcan: %w", err)
	}
	return &Driver{cfg: cfg, iface: iface, fd: -1}, nil
}

func (d *Driver) Initialize(canflash.Timing) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd >= 0 {
		return canflash.StatusIllegalOperation
	}
	if d.iface.Flags&net.FlagUp == 0 {
		if err := setLinkUp(d.iface.Index); err != nil {
			d.cfg.OnMessage(fmt.Sprintf("%s is down and could not be brought up: %v", d.iface.Name, err))
			return canflash.StatusBusOff
		}
		if d.cfg.Debug {
			d.cfg.OnMessage(d.iface.Name + " set up")
		}
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		d.cfg.OnMessage("socket: " + err.Error())
		return canflash.StatusResource
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: d.iface.Index}); err != nil {
		unix.Close(fd)
		d.cfg.OnMessage("bind: " + err.Error())
		return canflash.StatusIllegalHardware
	}
	d.fd = fd
	d.filterState = canflash.FilterOpen
	d.filters = nil
	return canflash.StatusOK
}

func (d *Driver) Uninitialize() canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return canflash.StatusNotInitialized
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return canflash.StatusResource
	}
	return canflash.StatusOK
}

func (d *Driver) socket() (int, canflash.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return -1, canflash.StatusNotInitialized
	}
	return d.fd, canflash.StatusOK
}

func (d *Driver) Read(msg *canflash.Msg) canflash.Status {
	fd, st := d.socket()
	if st != canflash.StatusOK {
		return st
	}
	buf := make([]byte, frameLen)
	n, err := unix.Read(fd, buf)
	switch {
	case errors.Is(err, unix.EAGAIN):
		return canflash.StatusQueueEmpty
	case err != nil:
		return canflash.StatusIllegalData
	case n != frameLen:
		return canflash.StatusIllegalData
	}
	unmarshalFrame(buf, msg)
	return canflash.StatusOK
}

func (d *Driver) Write(msg *canflash.Msg) canflash.Status {
	fd, st := d.socket()
	if st != canflash.StatusOK {
		return st
	}
	_, err := unix.Write(fd, marshalFrame(msg))
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
		return canflash.StatusTxQueueFull
	case errors.Is(err, unix.ENETDOWN):
		return canflash.StatusBusOff
	case err != nil:
		return canflash.StatusIllegalData
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
		if len(d.filters) == 0 {
			return 0, canflash.StatusIllegalValue
		}
		f := d.filters[len(d.filters)-1]
		if f.ID&effFlag != 0 {
			return canflash.AcceptanceValue(f.ID&effMask, f.Mask&effMask), canflash.StatusOK
		}
		return canflash.AcceptanceValue(f.ID&sffMask, f.Mask&sffMask), canflash.StatusOK
	default:
		return 0, canflash.StatusIllegalParameter
	}
}

func (d *Driver) SetValue(p canflash.Parameter, value uint64) canflash.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd < 0 {
		return canflash.StatusNotInitialized
	}
	switch p {
	case canflash.ParamMessageFilter:
		var filters []rawFilter
		switch value {
		case canflash.FilterClosed:
		case canflash.FilterOpen:
			filters = []rawFilter{{}}
		default:
			return canflash.StatusIllegalValue
		}
		if err := d.setFilters(filters); err != nil {
			return canflash.StatusIllegalValue
		}
		d.filterState = value
		d.filters = nil
		return canflash.StatusOK
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		code, mask := canflash.SplitAcceptance(value)
		f := acceptanceFilter(code, mask, p == canflash.ParamAcceptance29Bit)
		filters := []rawFilter{f}
		if d.filterState == canflash.FilterCustom {
			if len(d.filters) >= maxFilters {
				return canflash.StatusIllegalOperation
			}
			filters = append(append([]rawFilter{}, d.filters...), f)
		}
		if err := d.setFilters(filters); err != nil {
			return canflash.StatusIllegalValue
		}
		d.filters = filters
		d.filterState = canflash.FilterCustom
		return canflash.StatusOK
	case canflash.ParamAllowStatusFrames:
		var errMask int
		if value == canflash.ParameterOn {
			errMask = unix.CAN_ERR_MASK
		}
		if err := unix.SetsockoptInt(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, errMask); err != nil {
			return canflash.StatusIllegalValue
		}
		return canflash.StatusOK
	case canflash.ParamReceiveEvent:
		// readiness comes from polling the socket itself
		return canflash.StatusOK
	default:
		return canflash.StatusIllegalParameter
	}
}

func (d *Driver) setFilters(filters []rawFilter) error {
	cf := make([]unix.CanFilter, len(filters))
	for i, f := range filters {
		cf[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
	}
	return unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, cf)
}

func (d *Driver) ErrorText(st canflash.Status) string {
	return st.String()
}

func (d *Driver) NewEvent() (canflash.Event, error) {
	fd, st := d.socket()
	if st != canflash.StatusOK {
		return nil, errors.New(st.String())
	}
	ev, err := newPollEvent(fd)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return ev, nil
}

func (d *Driver) FilterCapabilities() canflash.FilterCapabilities {
	return capabilities
}
