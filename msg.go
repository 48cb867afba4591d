package canflash

// MessageType holds the type flags of a wire message.
type MessageType uint8

// PCAN-Basic message type numbering. Bits not listed here are carried through
// unchanged.
const (
	MessageStandard MessageType = 0x00
	MessageRTR      MessageType = 0x01
	MessageExtended MessageType = 0x02
	MessageFD       MessageType = 0x04
	MessageBRS      MessageType = 0x08
	MessageESI      MessageType = 0x10
	MessageEcho     MessageType = 0x20
	MessageErrFrame MessageType = 0x40
	MessageStatus   MessageType = 0x80
)

// Msg is the frame representation exchanged with a Driver. Only the first
// Len bytes of Data are meaningful.
type Msg struct {
	ID      uint32
	MsgType MessageType
	Len     uint8
	Data    [8]byte
}
