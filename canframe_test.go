package canflash_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/roffe/canflash"
)

func TestNewFrame(t *testing.T) {
	tests := []struct {
		name     string
		extended bool
		id       uint32
		data     []byte
		wantErr  bool
	}{
		{name: "standard", id: 0x79, data: []byte{0x79}},
		{name: "standard max", id: 0x7FF},
		{name: "standard out of range", id: 0x800, wantErr: true},
		{name: "extended max", extended: true, id: 0x1FFFFFFF, data: make([]byte, 8)},
		{name: "extended out of range", extended: true, id: 0x20000000, wantErr: true},
		{name: "too much data", id: 0x04, data: make([]byte, 9), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f canflash.Frame
			var err error
			if tt.extended {
				f, err = canflash.NewExtendedFrame(tt.id, tt.data)
			} else {
				f, err = canflash.NewStandardFrame(tt.id, tt.data)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, canflash.ErrInvalidFrame) {
					t.Errorf("error = %v, want ErrInvalidFrame", err)
				}
				return
			}
			if f.Identifier() != tt.id || f.IsExtended() != tt.extended {
				t.Errorf("got id 0x%X extended %v", f.Identifier(), f.IsExtended())
			}
			if f.DLC() != len(tt.data) || f.IsRemote() {
				t.Errorf("DLC() = %d, IsRemote() = %v", f.DLC(), f.IsRemote())
			}
		})
	}
}

func TestFrameDataIsCopied(t *testing.T) {
	in := []byte{1, 2, 3}
	f, err := canflash.NewStandardFrame(0x31, in)
	if err != nil {
		t.Fatal(err)
	}
	in[0] = 0xFF
	out := f.Data()
	out[1] = 0xFF
	if got := f.Data(); got[0] != 1 || got[1] != 2 || len(got) != 3 {
		t.Errorf("Data() = %X, frame was modified", got)
	}
}

func TestMarkRemote(t *testing.T) {
	f, _ := canflash.NewStandardFrame(0x21, []byte{1, 2, 3, 4})
	r, err := canflash.MarkRemote(f, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsRemote() || r.DLC() != 3 || len(r.Data()) != 0 {
		t.Errorf("remote frame: IsRemote %v DLC %d Data %X", r.IsRemote(), r.DLC(), r.Data())
	}
	if f.IsRemote() {
		t.Error("MarkRemote modified its input frame")
	}
	if r.Encode().MsgType&canflash.MessageRTR == 0 {
		t.Error("encoded remote frame lacks the RTR flag")
	}
	for _, dlc := range []int{-1, 8, 9} {
		if _, err := canflash.MarkRemote(f, dlc); !errors.Is(err, canflash.ErrInvalidFrame) {
			t.Errorf("MarkRemote(dlc %d) error = %v, want ErrInvalidFrame", dlc, err)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	f, _ := canflash.NewExtendedFrame(0x18DAF110, []byte{0xDE, 0xAD})
	msg := f.Encode()
	if msg.ID != 0x18DAF110 || msg.Len != 2 || msg.MsgType != canflash.MessageExtended {
		t.Fatalf("Encode() = %+v", msg)
	}
	if got := canflash.Decode(msg); got != f {
		t.Errorf("Decode(Encode()) = %v, want %v", got, f)
	}

	// type bits the library does not interpret survive a decode
	msg = canflash.Msg{ID: 0x79, MsgType: canflash.MessageEcho, Len: 1, Data: [8]byte{0x79}}
	got := canflash.Decode(msg)
	if got.MessageType() != canflash.MessageEcho || got.IsExtended() {
		t.Errorf("Decode() type = 0x%02X extended %v", got.MessageType(), got.IsExtended())
	}
	if got.Encode() != msg {
		t.Errorf("Encode(Decode()) = %+v, want %+v", got.Encode(), msg)
	}
}

func TestEncodeDecodeBoundaries(t *testing.T) {
	full := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	tests := []struct {
		name     string
		id       uint32
		extended bool
		data     []byte
	}{
		{"std 0 empty", 0, false, nil},
		{"std 0 full", 0, false, full},
		{"std 0x7FF empty", 0x7FF, false, nil},
		{"std 0x7FF full", 0x7FF, false, full},
		{"ext 0 empty", 0, true, nil},
		{"ext 0 full", 0, true, full},
		{"ext 0x1FFFFFFF empty", 0x1FFFFFFF, true, nil},
		{"ext 0x1FFFFFFF full", 0x1FFFFFFF, true, full},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newFrame, wantType := canflash.NewStandardFrame, canflash.MessageStandard
			if tt.extended {
				newFrame, wantType = canflash.NewExtendedFrame, canflash.MessageExtended
			}
			f, err := newFrame(tt.id, tt.data)
			if err != nil {
				t.Fatal(err)
			}
			msg := f.Encode()
			if msg.ID != tt.id || msg.MsgType != wantType || int(msg.Len) != len(tt.data) {
				t.Fatalf("Encode() = %+v", msg)
			}
			if !bytes.Equal(msg.Data[:msg.Len], tt.data) {
				t.Errorf("Encode() data = % X, want % X", msg.Data[:msg.Len], tt.data)
			}
			got := canflash.Decode(msg)
			if got != f || got.IsExtended() != tt.extended || got.Identifier() != tt.id {
				t.Errorf("Decode(Encode()) = %v, want %v", got, f)
			}
		})
	}
}

func TestFrameString(t *testing.T) {
	f, _ := canflash.NewStandardFrame(0x79, []byte{0x79, 0x41})
	if s := f.String(); !strings.HasPrefix(s, "0x079 || 2 || 79 41") || !strings.HasSuffix(s, "yA") {
		t.Errorf("String() = %q", s)
	}
	r, _ := canflash.MarkRemote(f, 1)
	if s := r.String(); s != "0x079 || 1 || RTR" {
		t.Errorf("String() = %q", s)
	}
}

func TestIdentifier(t *testing.T) {
	id, err := canflash.StandardID(0x43)
	if err != nil || id.Raw() != 0x43 || id.IsExtended() || id.String() != "0x043" {
		t.Errorf("StandardID(0x43) = %v, %v", id, err)
	}
	id, err = canflash.ExtendedID(0x43)
	if err != nil || !id.IsExtended() || id.String() != "0x00000043" {
		t.Errorf("ExtendedID(0x43) = %v, %v", id, err)
	}
	if _, err := canflash.StandardID(0x800); !errors.Is(err, canflash.ErrInvalidFrame) {
		t.Errorf("StandardID(0x800) error = %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("MustStandardID(0x800) did not panic")
		}
	}()
	canflash.MustStandardID(0x800)
}
