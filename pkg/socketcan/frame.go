package socketcan

import (
	"encoding/binary"

	"github.com/roffe/canflash"
)

// struct can_frame as read from and written to a CAN_RAW socket.
const frameLen = 16

const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000

	sffMask = 0x000007FF
	effMask = 0x1FFFFFFF
)

func marshalFrame(msg *canflash.Msg) []byte {
	buf := make([]byte, frameLen)
	id := msg.ID & sffMask
	if msg.MsgType&canflash.MessageExtended != 0 {
		id = msg.ID&effMask | effFlag
	}
	if msg.MsgType&canflash.MessageRTR != 0 {
		id |= rtrFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = min(msg.Len, 8)
	copy(buf[8:], msg.Data[:])
	return buf
}

func unmarshalFrame(buf []byte, msg *canflash.Msg) {
	raw := binary.LittleEndian.Uint32(buf[0:4])
	*msg = canflash.Msg{Len: min(buf[4], 8)}
	switch {
	case raw&effFlag != 0:
		msg.ID = raw & effMask
		msg.MsgType = canflash.MessageExtended
	default:
		msg.ID = raw & sffMask
	}
	if raw&rtrFlag != 0 {
		msg.MsgType |= canflash.MessageRTR
	}
	if raw&errFlag != 0 {
		msg.MsgType |= canflash.MessageErrFrame
	}
	copy(msg.Data[:], buf[8:frameLen])
}

// rawFilter is struct can_filter. A received frame matches when
// received_id & Mask == ID & Mask.
type rawFilter struct {
	ID   uint32
	Mask uint32
}

// acceptanceFilter converts a must-match acceptance entry into a kernel
// filter that also pins the frame format and rejects remote frames.
func acceptanceFilter(code, mask uint32, extended bool) rawFilter {
	if extended {
		return rawFilter{ID: code&effMask | effFlag, Mask: mask&effMask | effFlag | rtrFlag}
	}
	return rawFilter{ID: code & sffMask, Mask: mask&sffMask | effFlag | rtrFlag}
}
