package slcan

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/roffe/canflash"
)

// Lawicel bitrate commands keyed by the equivalent SJA1000 timing. The
// adapters pick their own sample point.
var bitrateCommands = map[canflash.Timing]string{
	0x672F:                 "S0",
	0x532F:                 "S1",
	0x472F:                 "S2",
	0x432F:                 "S3",
	canflash.DefaultTiming: "S4",
	0x031C:                 "S4",
	0x011C:                 "S5",
	0x001C:                 "S6",
	0x0016:                 "S7",
	0x0014:                 "S8",
	0x4037:                 "S9",
}

func bitrateCommand(t canflash.Timing) (string, error) {
	if cmd, ok := bitrateCommands[t]; ok {
		return cmd, nil
	}
	return "", fmt.Errorf("timing %s has no slcan bitrate command", t)
}

// encodeFrame renders msg as a Lawicel transmit command including the
// trailing carriage return:
//
//	t<iii><l><dd..>  standard data
//	T<iiiiiiii><l><dd..>  extended data
//	r<iii><l> / R<iiiiiiii><l>  remote
func encodeFrame(msg *canflash.Msg) []byte {
	extended := msg.MsgType&canflash.MessageExtended != 0
	remote := msg.MsgType&canflash.MessageRTR != 0
	dlc := min(msg.Len, 8)

	buf := make([]byte, 0, 1+8+1+16+1)
	switch {
	case extended && remote:
		buf = append(buf, 'R')
	case extended:
		buf = append(buf, 'T')
	case remote:
		buf = append(buf, 'r')
	default:
		buf = append(buf, 't')
	}

	if extended {
		id := msg.ID & canflash.MaxExtendedID
		for shift := 28; shift >= 0; shift -= 4 {
			buf = append(buf, nybbleToHex(byte(id>>shift)&0xF))
		}
	} else {
		id := msg.ID & canflash.MaxStandardID
		buf = append(buf, nybbleToHex(byte(id>>8)&0xF), nybbleToHex(byte(id>>4)&0xF), nybbleToHex(byte(id)&0xF))
	}

	buf = append(buf, nybbleToHex(dlc))
	if !remote {
		for i := range dlc {
			buf = append(buf, nybbleToHex(msg.Data[i]>>4), nybbleToHex(msg.Data[i]&0xF))
		}
	}
	return append(buf, '\r')
}

func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// decodeFrame parses one received line without its carriage return. A
// trailing timestamp, if the adapter appends one, is ignored.
func decodeFrame(line []byte) (canflash.Msg, error) {
	var msg canflash.Msg
	if len(line) == 0 {
		return msg, fmt.Errorf("empty frame")
	}
	idLen := 3
	switch line[0] {
	case 't':
	case 'r':
		msg.MsgType = canflash.MessageRTR
	case 'T':
		idLen = 8
		msg.MsgType = canflash.MessageExtended
	case 'R':
		idLen = 8
		msg.MsgType = canflash.MessageExtended | canflash.MessageRTR
	default:
		return msg, fmt.Errorf("not a frame: %q", line)
	}
	if len(line) < 1+idLen+1 {
		return msg, fmt.Errorf("short frame: %q", line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return msg, fmt.Errorf("failed to decode identifier: %v", err)
	}
	if (idLen == 3 && id > canflash.MaxStandardID) || id > canflash.MaxExtendedID {
		return msg, fmt.Errorf("identifier out of range: 0x%X", id)
	}
	dlc, err := strconv.ParseUint(string(line[1+idLen]), 16, 8)
	if err != nil {
		return msg, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dlc > 8 {
		return msg, fmt.Errorf("invalid data length: %d", dlc)
	}
	msg.ID = uint32(id)
	msg.Len = uint8(dlc)
	if msg.MsgType&canflash.MessageRTR != 0 {
		return msg, nil
	}
	body := line[2+idLen:]
	if len(body) < int(dlc)*2 {
		return msg, fmt.Errorf("short frame body: %q", line)
	}
	if _, err := hex.Decode(msg.Data[:dlc], body[:dlc*2]); err != nil {
		return msg, fmt.Errorf("failed to decode frame body: %v", err)
	}
	return msg, nil
}
