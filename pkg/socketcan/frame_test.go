package socketcan

import (
	"bytes"
	"testing"

	"github.com/roffe/canflash"
)

func TestMarshalFrame(t *testing.T) {
	tests := []struct {
		name string
		msg  canflash.Msg
		want []byte
	}{
		{
			name: "standard",
			msg:  canflash.Msg{ID: 0x79, Len: 1, Data: [8]byte{0x79}},
			want: []byte{0x79, 0, 0, 0, 1, 0, 0, 0, 0x79, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "extended",
			msg:  canflash.Msg{ID: 0x1ABCDEF0, MsgType: canflash.MessageExtended, Len: 2, Data: [8]byte{1, 2}},
			want: []byte{0xF0, 0xDE, 0xBC, 0x9A, 2, 0, 0, 0, 1, 2, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "remote",
			msg:  canflash.Msg{ID: 0x123, MsgType: canflash.MessageRTR, Len: 4},
			want: []byte{0x23, 0x01, 0, 0x40, 4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := marshalFrame(&tt.msg)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("marshalFrame() = % X, want % X", got, tt.want)
			}
			var back canflash.Msg
			unmarshalFrame(got, &back)
			if back != tt.msg {
				t.Errorf("unmarshalFrame() = %+v, want %+v", back, tt.msg)
			}
		})
	}
}

func TestAcceptanceFilter(t *testing.T) {
	f := acceptanceFilter(0x001, 0x784, false)
	if f.ID != 0x001 || f.Mask != 0x784|effFlag|rtrFlag {
		t.Fatalf("unexpected filter %+v", f)
	}
	for _, id := range []uint32{0x79, 0x43, 0x31, 0x21} {
		if id&f.Mask != f.ID&f.Mask {
			t.Errorf("filter %+v rejects 0x%X", f, id)
		}
	}
	// an extended frame with a matching low part must not pass
	if (0x79|effFlag)&f.Mask == f.ID&f.Mask {
		t.Error("standard filter admits an extended frame")
	}

	x := acceptanceFilter(0x18DAF110, effMask, true)
	if x.ID != 0x18DAF110|effFlag {
		t.Errorf("extended filter id = 0x%X", x.ID)
	}
}
