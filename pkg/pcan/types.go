package pcan

import (
	"fmt"
	"strconv"
	"strings"
)

// PCAN-Basic type mappings, trimmed to what the channel driver uses.
type (
	TPCANHandle    uint16
	TPCANStatus    uint32
	TPCANParameter uint8
)

const (
	PCAN_NONEBUS TPCANHandle = 0x00
	PCAN_PCIBUS1 TPCANHandle = 0x41
	PCAN_USBBUS1 TPCANHandle = 0x51
	PCAN_USBBUS9 TPCANHandle = 0x509
	PCAN_LANBUS1 TPCANHandle = 0x801
)

const (
	PCAN_ERROR_OK          TPCANStatus = 0x00000
	PCAN_ERROR_QRCVEMPTY   TPCANStatus = 0x00020
	PCAN_ERROR_NODRIVER    TPCANStatus = 0x00200
	PCAN_ERROR_ILLPARAMVAL TPCANStatus = 0x08000
)

const (
	PCAN_RECEIVE_EVENT           TPCANParameter = 0x03
	PCAN_MESSAGE_FILTER          TPCANParameter = 0x04
	PCAN_HARDWARE_NAME           TPCANParameter = 0x0E
	PCAN_ALLOW_STATUS_FRAMES     TPCANParameter = 0x1E
	PCAN_ACCEPTANCE_FILTER_11BIT TPCANParameter = 0x22
	PCAN_ACCEPTANCE_FILTER_29BIT TPCANParameter = 0x23
	PCAN_FIRMWARE_VERSION        TPCANParameter = 0x29
)

const (
	MAX_LENGTH_HARDWARE_NAME  = 33
	MAX_LENGTH_VERSION_STRING = 256
)

// TPCANMsg is the classic CAN frame layout PCANBasic.dll reads and writes.
type TPCANMsg struct {
	ID      uint32
	MSGTYPE uint8
	LEN     uint8
	DATA    [8]uint8
}

// TPCANTimestamp is filled in by CAN_Read.
type TPCANTimestamp struct {
	Millis         uint32
	MillisOverflow uint16
	Micros         uint16
}

var busBase = map[string]TPCANHandle{
	"PCAN_PCIBUS": PCAN_PCIBUS1,
	"PCAN_USBBUS": PCAN_USBBUS1,
	"PCAN_LANBUS": PCAN_LANBUS1,
}

// LookupChannel resolves a channel name such as PCAN_USBBUS1 or a raw handle
// such as 0x51.
func LookupChannel(name string) (TPCANHandle, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return PCAN_USBBUS1, nil
	}
	if strings.HasPrefix(name, "0X") {
		v, err := strconv.ParseUint(name[2:], 16, 16)
		if err != nil {
			return PCAN_NONEBUS, fmt.Errorf("invalid channel handle %q: %w", name, err)
		}
		return TPCANHandle(v), nil
	}
	for prefix, first := range busBase {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(name[len(prefix):])
		if err != nil || n < 1 || n > 16 {
			break
		}
		return channelHandle(first, n), nil
	}
	return PCAN_NONEBUS, fmt.Errorf("unknown PCAN channel %q", name)
}

func channelHandle(first TPCANHandle, n int) TPCANHandle {
	if first == PCAN_LANBUS1 {
		return first + TPCANHandle(n-1)
	}
	// channels 9-16 of PCI and USB live in a separate range
	if n > 8 {
		return (first&0xF0)<<4 | TPCANHandle(n)
	}
	return first + TPCANHandle(n-1)
}

// hardwareMask converts a must-match mask into the SJA1000 acceptance mask
// PCAN-Basic expects, where a set bit means don't care. The conversion is its
// own inverse.
func hardwareMask(mask uint32, extended bool) uint32 {
	width := uint32(0x7FF)
	if extended {
		width = 0x1FFFFFFF
	}
	return ^mask & width
}

func cString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
