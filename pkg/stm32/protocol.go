// Package stm32 drives the STM32 system memory bootloader over CAN: it
// synchronizes with the bootloader, mass-erases flash, writes an image and
// jumps into it.
package stm32

import (
	"errors"
	"fmt"

	"github.com/roffe/canflash"
)

// Command identifiers. Acknowledgements arrive on the identifier of the
// command they answer; write data goes out on CmdWriteData and is answered
// on CmdWriteMemory.
const (
	CmdSync        uint32 = 0x79
	CmdErase       uint32 = 0x43
	CmdWriteMemory uint32 = 0x31
	CmdWriteData   uint32 = 0x04
	CmdGo          uint32 = 0x21
)

const (
	Ack  byte = 0x79
	Nack byte = 0x1F

	// EraseAll is the erase command payload selecting a mass erase.
	EraseAll byte = 0xFF

	BlockSize = 256

	DefaultAddress uint32 = 0x08000000
)

// receiveIDs are the identifiers the bootloader answers on.
var receiveIDs = []uint32{CmdSync, CmdErase, CmdWriteMemory, CmdGo}

func isProtocolFrame(f canflash.Frame) bool {
	if f.IsExtended() {
		return false
	}
	for _, id := range receiveIDs {
		if f.Identifier() == id {
			return true
		}
	}
	return false
}

var (
	ErrProtocolViolation = errors.New("bootloader protocol violation")
	ErrInvalidState      = errors.New("invalid bootloader state")
	ErrAddressRange      = errors.New("image does not fit the 32-bit address space")
)

// UnexpectedAckError carries the frame received where an acknowledgement
// was expected.
type UnexpectedAckError struct {
	Command uint32
	Frame   canflash.Frame
}

func (e *UnexpectedAckError) Error() string {
	data := e.Frame.Data()
	if e.Frame.Identifier() == e.Command && len(data) == 1 && data[0] == Nack {
		return fmt.Sprintf("command 0x%02X rejected by bootloader (NACK)", e.Command)
	}
	return fmt.Sprintf("expected ACK on 0x%02X, got: %s", e.Command, e.Frame.String())
}

func (e *UnexpectedAckError) Unwrap() error {
	return ErrProtocolViolation
}

type State int

const (
	StateCreated State = iota
	StateEnabled
	StateErased
	StateWriting
	StateJumped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEnabled:
		return "enabled"
	case StateErased:
		return "erased"
	case StateWriting:
		return "writing"
	case StateJumped:
		return "jumped"
	default:
		return "unknown"
	}
}
