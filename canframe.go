package canflash

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Frame is a classic CAN frame. It is a value type and is never modified
// after construction; MarkRemote returns a new Frame.
type Frame struct {
	id    Identifier
	flags MessageType
	dlc   uint8
	data  [8]byte
}

// NewStandardFrame creates a data frame with an 11-bit identifier. The data
// slice is copied.
func NewStandardFrame(id uint32, data []byte) (Frame, error) {
	ident, err := StandardID(id)
	if err != nil {
		return Frame{}, err
	}
	return NewFrame(ident, data)
}

// NewExtendedFrame creates a data frame with a 29-bit identifier. The data
// slice is copied.
func NewExtendedFrame(id uint32, data []byte) (Frame, error) {
	ident, err := ExtendedID(id)
	if err != nil {
		return Frame{}, err
	}
	return NewFrame(ident, data)
}

// NewFrame creates a data frame for an already validated identifier.
func NewFrame(id Identifier, data []byte) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, fmt.Errorf("%w: %d data bytes, classic CAN carries at most 8", ErrInvalidFrame, len(data))
	}
	f := Frame{
		id:    id,
		flags: MessageStandard,
		dlc:   uint8(len(data)),
	}
	if id.extended {
		f.flags = MessageExtended
	}
	copy(f.data[:], data)
	return f, nil
}

// MarkRemote turns f into a remote frame requesting dlc bytes. The payload is
// cleared.
func MarkRemote(f Frame, dlc int) (Frame, error) {
	if dlc < 0 || dlc >= 8 {
		return Frame{}, fmt.Errorf("%w: remote frame dlc %d", ErrInvalidFrame, dlc)
	}
	f.flags |= MessageRTR
	f.dlc = uint8(dlc)
	f.data = [8]byte{}
	return f, nil
}

// Decode converts a wire message into a Frame. It accepts anything a driver
// hands back; unknown type bits are kept as they are.
func Decode(m Msg) Frame {
	return Frame{
		id: Identifier{
			raw:      m.ID,
			extended: m.MsgType&MessageExtended != 0,
		},
		flags: m.MsgType,
		dlc:   m.Len,
		data:  m.Data,
	}
}

// Encode converts the frame to its wire representation.
func (f Frame) Encode() Msg {
	return Msg{
		ID:      f.id.raw,
		MsgType: f.flags,
		Len:     f.dlc,
		Data:    f.data,
	}
}

func (f Frame) ID() Identifier           { return f.id }
func (f Frame) Identifier() uint32       { return f.id.raw }
func (f Frame) IsExtended() bool         { return f.id.extended }
func (f Frame) IsRemote() bool           { return f.flags&MessageRTR != 0 }
func (f Frame) MessageType() MessageType { return f.flags }

// DLC returns the declared data length. For remote frames this is the
// requested length, not the payload size.
func (f Frame) DLC() int {
	return int(f.dlc)
}

// Data returns a copy of the payload.
func (f Frame) Data() []byte {
	if f.IsRemote() {
		return []byte{}
	}
	n := min(int(f.dlc), len(f.data))
	d := make([]byte, n)
	copy(d, f.data[:n])
	return d
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f Frame) String() string {
	return f.render(fmt.Sprintf, fmt.Sprintf, fmt.Sprintf)
}

func (f Frame) ColorString() string {
	return f.render(green, red, yellow)
}

func (f Frame) render(idFmt, binFmt, txtFmt func(string, ...interface{}) string) string {
	var out strings.Builder
	out.WriteString(idFmt("%s", f.id.String()) + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	if f.IsRemote() {
		out.WriteString("RTR")
		return out.String()
	}
	data := f.Data()
	var hexView strings.Builder
	for i, b := range data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")
	var binView strings.Builder
	for i, b := range data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(data)-1 {
			binView.WriteString(" ")
		}
	}
	out.WriteString(binFmt("%-71s", binView.String()))
	out.WriteString(" || ")
	out.WriteString(txtFmt("%s", onlyPrintable(data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
