//go:build windows

package pcan

import (
	"fmt"
	"unsafe"

	"github.com/roffe/canflash"
	"golang.org/x/sys/windows"
)

var (
	pcanDLL = windows.NewLazySystemDLL("PCANBasic.dll")

	procCANInitialize   = pcanDLL.NewProc("CAN_Initialize")
	procCANUninitialize = pcanDLL.NewProc("CAN_Uninitialize")
	procCANRead         = pcanDLL.NewProc("CAN_Read")
	procCANWrite        = pcanDLL.NewProc("CAN_Write")
	procCANGetValue     = pcanDLL.NewProc("CAN_GetValue")
	procCANSetValue     = pcanDLL.NewProc("CAN_SetValue")
	procCANGetErrorText = pcanDLL.NewProc("CAN_GetErrorText")
)

func init() {
	if err := canflash.RegisterDriver(&canflash.DriverInfo{
		Name:         "pcan",
		Description:  "PEAK-System PCAN-Basic channel",
		Capabilities: capabilities,
		New:          New,
	}); err != nil {
		panic(err)
	}
}

var capabilities = canflash.FilterCapabilities{Slots: 1, Mask: true}

// Driver binds one PCAN-Basic channel.
type Driver struct {
	cfg *canflash.DriverConfig
	ch  TPCANHandle
}

func New(cfg *canflash.DriverConfig) (canflash.Driver, error) {
	if err := pcanDLL.Load(); err != nil {
		return nil, fmt.Errorf("load PCANBasic.dll: %w", err)
	}
	ch, err := LookupChannel(cfg.Channel)
	if err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, ch: ch}, nil
}

func call(p *windows.LazyProc, args ...uintptr) canflash.Status {
	r1, _, _ := p.Call(args...)
	return canflash.Status(r1)
}

func (d *Driver) Initialize(t canflash.Timing) canflash.Status {
	st := call(procCANInitialize, uintptr(d.ch), uintptr(t))
	if st == canflash.StatusOK && d.cfg.Debug {
		var name [MAX_LENGTH_HARDWARE_NAME]byte
		if call(procCANGetValue, uintptr(d.ch), uintptr(PCAN_HARDWARE_NAME), uintptr(unsafe.Pointer(&name[0])), MAX_LENGTH_HARDWARE_NAME) == canflash.StatusOK {
			d.cfg.OnMessage(fmt.Sprintf("PCAN channel 0x%X: %s, timing %s", d.ch, cString(name[:]), t))
		}
	}
	return st
}

func (d *Driver) Uninitialize() canflash.Status {
	return call(procCANUninitialize, uintptr(d.ch))
}

func (d *Driver) Read(msg *canflash.Msg) canflash.Status {
	var m TPCANMsg
	var ts TPCANTimestamp
	st := call(procCANRead, uintptr(d.ch), uintptr(unsafe.Pointer(&m)), uintptr(unsafe.Pointer(&ts)))
	if st != canflash.StatusOK {
		return st
	}
	*msg = canflash.Msg{
		ID:      m.ID,
		MsgType: canflash.MessageType(m.MSGTYPE),
		Len:     m.LEN,
		Data:    m.DATA,
	}
	return st
}

func (d *Driver) Write(msg *canflash.Msg) canflash.Status {
	m := TPCANMsg{
		ID:      msg.ID,
		MSGTYPE: uint8(msg.MsgType),
		LEN:     msg.Len,
		DATA:    msg.Data,
	}
	return call(procCANWrite, uintptr(d.ch), uintptr(unsafe.Pointer(&m)))
}

func (d *Driver) GetValue(p canflash.Parameter) (uint64, canflash.Status) {
	switch p {
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		var v uint64
		st := call(procCANGetValue, uintptr(d.ch), uintptr(p), uintptr(unsafe.Pointer(&v)), 8)
		code, mask := canflash.SplitAcceptance(v)
		return canflash.AcceptanceValue(code, hardwareMask(mask, p == canflash.ParamAcceptance29Bit)), st
	default:
		var v uint32
		st := call(procCANGetValue, uintptr(d.ch), uintptr(p), uintptr(unsafe.Pointer(&v)), 4)
		return uint64(v), st
	}
}

// SetValue writes a PCAN-Basic parameter. Acceptance masks arrive with set
// bits meaning must match and are inverted for the controller. The receive
// event handle is passed as a DWORD like the PCAN-Basic samples do.
func (d *Driver) SetValue(p canflash.Parameter, value uint64) canflash.Status {
	switch p {
	case canflash.ParamAcceptance11Bit, canflash.ParamAcceptance29Bit:
		code, mask := canflash.SplitAcceptance(value)
		v := canflash.AcceptanceValue(code, hardwareMask(mask, p == canflash.ParamAcceptance29Bit))
		return call(procCANSetValue, uintptr(d.ch), uintptr(p), uintptr(unsafe.Pointer(&v)), 8)
	default:
		v := uint32(value)
		return call(procCANSetValue, uintptr(d.ch), uintptr(p), uintptr(unsafe.Pointer(&v)), 4)
	}
}

func (d *Driver) ErrorText(st canflash.Status) string {
	buf := make([]byte, MAX_LENGTH_VERSION_STRING)
	if call(procCANGetErrorText, uintptr(st), 0, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf))) != canflash.StatusOK {
		return fmt.Sprintf("unknown PCAN error 0x%X", uint32(st))
	}
	return cString(buf)
}

func (d *Driver) NewEvent() (canflash.Event, error) {
	return newReceiveEvent()
}

func (d *Driver) FilterCapabilities() canflash.FilterCapabilities {
	return capabilities
}
