package canflash

import (
	"fmt"
	"time"
)

// Status is a native driver status code. The numbering follows PCAN-Basic so
// the PCAN binding can hand codes through untouched; other drivers translate
// their errors into the closest code.
type Status uint32

const (
	StatusOK               Status = 0x00000
	StatusTxFull           Status = 0x00001
	StatusOverrun          Status = 0x00002
	StatusBusLight         Status = 0x00004
	StatusBusHeavy         Status = 0x00008
	StatusBusOff           Status = 0x00010
	StatusQueueEmpty       Status = 0x00020
	StatusQueueOverrun     Status = 0x00040
	StatusTxQueueFull      Status = 0x00080
	StatusNoDriver         Status = 0x00200
	StatusHardwareInUse    Status = 0x00400
	StatusIllegalHardware  Status = 0x01400
	StatusResource         Status = 0x02000
	StatusIllegalParameter Status = 0x04000
	StatusIllegalValue     Status = 0x08000
	StatusUnknown          Status = 0x10000
	StatusIllegalData      Status = 0x20000
	StatusBusPassive       Status = 0x40000
	StatusIllegalMode      Status = 0x80000
	StatusNotInitialized   Status = 0x4000000
	StatusIllegalOperation Status = 0x8000000
)

var statusText = map[Status]string{
	StatusOK:               "no error",
	StatusTxFull:           "transmit buffer in CAN controller is full",
	StatusOverrun:          "CAN controller was read too late",
	StatusBusLight:         "bus error: an error counter reached the 'light' limit",
	StatusBusHeavy:         "bus error: an error counter reached the 'heavy' limit",
	StatusBusOff:           "bus error: the CAN controller is in bus-off state",
	StatusQueueEmpty:       "receive queue is empty",
	StatusQueueOverrun:     "receive queue was read too late",
	StatusTxQueueFull:      "transmit queue is full",
	StatusNoDriver:         "driver not loaded",
	StatusHardwareInUse:    "hardware already in use",
	StatusIllegalHardware:  "invalid hardware handle",
	StatusResource:         "resource cannot be created",
	StatusIllegalParameter: "invalid parameter",
	StatusIllegalValue:     "invalid parameter value",
	StatusUnknown:          "unknown error",
	StatusIllegalData:      "invalid data, function or action",
	StatusBusPassive:       "bus error: the CAN controller is error passive",
	StatusIllegalMode:      "driver object is in a wrong state for the operation",
	StatusNotInitialized:   "channel is not initialized",
	StatusIllegalOperation: "invalid operation",
}

// String describes the status. Drivers without a native error text use it
// for ErrorText.
func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("driver status 0x%05X", uint32(s))
}

// Parameter selects a driver value for GetValue/SetValue.
type Parameter uint8

const (
	ParamMessageFilter     Parameter = 0x04 // FilterClosed, FilterOpen or FilterCustom
	ParamReceiveEvent      Parameter = 0x03 // Event.Handle() of the receive event
	ParamAllowStatusFrames Parameter = 0x1E // ParameterOff / ParameterOn
	ParamAcceptance11Bit   Parameter = 0x22 // code<<32 | mask, standard identifiers
	ParamAcceptance29Bit   Parameter = 0x23 // code<<32 | mask, extended identifiers
)

// Filter states reported and accepted through ParamMessageFilter.
const (
	FilterClosed uint64 = 0x00
	FilterOpen   uint64 = 0x01
	FilterCustom uint64 = 0x02
)

const (
	ParameterOff uint64 = 0x00
	ParameterOn  uint64 = 0x01
)

// AcceptanceValue packs an identifier and a mask for ParamAcceptance11Bit and
// ParamAcceptance29Bit. A set mask bit means the identifier bit must match.
func AcceptanceValue(code, mask uint32) uint64 {
	return uint64(code)<<32 | uint64(mask)
}

// SplitAcceptance is the inverse of AcceptanceValue.
func SplitAcceptance(v uint64) (code, mask uint32) {
	return uint32(v >> 32), uint32(v)
}

// Driver is the narrow set of native operations the Channel consumes. A
// Driver instance is bound to one hardware channel.
//
// Writing an acceptance parameter while the message filter is FilterCustom
// adds another acceptance entry, up to FilterCapabilities().Slots. Writing
// it in any other filter state replaces the configuration with that single
// entry. Either way the filter state becomes FilterCustom.
type Driver interface {
	Initialize(Timing) Status
	Uninitialize() Status
	Read(*Msg) Status
	Write(*Msg) Status
	GetValue(Parameter) (uint64, Status)
	SetValue(Parameter, uint64) Status
	ErrorText(Status) string
	NewEvent() (Event, error)
	FilterCapabilities() FilterCapabilities
}

// Event is the OS wait primitive bound to a channel's receive notification.
//
// Wait is a thread-blocking call, not a cooperative yield. A timeout of zero
// waits forever; an expired timeout returns ErrTimeout.
type Event interface {
	Handle() uint64
	Wait(timeout time.Duration) error
	Close() error
}

// Timing is a pre-computed BTR0/BTR1 bus timing register pair.
type Timing uint16

// DefaultTiming is 125 kbit/s with a 75% sample point. The STM32 bootloader
// acknowledges early at this rate and the default 87.5% point produces form
// errors in the CRC delimiter.
const DefaultTiming Timing = 0x033A

// TimingForRate returns the SJA1000 register pair for a bitrate in kbit/s.
func TimingForRate(kbit float64) (Timing, error) {
	switch kbit {
	case 1000:
		return 0x0014, nil
	case 800:
		return 0x0016, nil
	case 615.384:
		return 0x4037, nil
	case 500:
		return 0x001C, nil
	case 250:
		return 0x011C, nil
	case 125:
		return DefaultTiming, nil
	case 100:
		return 0x432F, nil
	case 95:
		return 0xC34E, nil
	case 83:
		return 0x852B, nil
	case 50:
		return 0x472F, nil
	case 47:
		return 0x1414, nil
	case 33:
		return 0x8B2F, nil
	case 20:
		return 0x532F, nil
	case 10:
		return 0x672F, nil
	case 5:
		return 0x7F7F, nil
	default:
		return 0, fmt.Errorf("unsupported CAN rate: %v kbit/s", kbit)
	}
}

func (t Timing) String() string {
	return fmt.Sprintf("0x%04X", uint16(t))
}
