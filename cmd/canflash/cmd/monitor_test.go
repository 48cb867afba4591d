package cmd

import (
	"errors"
	"slices"
	"testing"

	"github.com/roffe/canflash"
	"github.com/roffe/canflash/pkg/virtual"
)

func TestParseFilters(t *testing.T) {
	tests := []struct {
		arg     string
		want    canflash.Filter
		wantErr bool
	}{
		{arg: "0x79", want: canflash.NewStandardFilter(0x79)},
		{arg: "0x700/0x700", want: canflash.Filter{ID: 0x700, Mask: 0x700}},
		{arg: "0x18DAF110", want: canflash.NewExtendedFilter(0x18DAF110)},
		{arg: "121", want: canflash.NewStandardFilter(121)},
		{arg: "0x20000000", wantErr: true},
		{arg: "zz", wantErr: true},
		{arg: "0x10/zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := parseFilters([]string{tt.arg})
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFilters(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("parseFilters(%q) = %v, want %v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestApplyFilter(t *testing.T) {
	drv := virtual.New(nil)
	ch, err := canflash.Open(drv)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	frame := func(id uint32) canflash.Frame {
		f, err := canflash.NewStandardFrame(id, nil)
		if err != nil {
			t.Fatal(err)
		}
		return f
	}
	// received reports which of the ids pass the current filter.
	received := func(ids ...uint32) []uint32 {
		for _, id := range ids {
			drv.Inject(frame(id))
		}
		var got []uint32
		for {
			f, err := ch.ReceiveNonBlocking()
			if errors.Is(err, canflash.ErrWouldBlock) {
				return got
			}
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, f.Identifier())
		}
	}

	steps := []struct {
		text    string
		wantErr bool
		want    []uint32
	}{
		{text: "0x79, 0x43", want: []uint32{0x79, 0x43}},
		{text: "0x21", want: []uint32{0x21}},
		{text: "0x700/0x700 0x79", want: []uint32{0x79, 0x7E8}},
		{text: "zz", wantErr: true, want: []uint32{0x79, 0x7E8}},
		{text: "", want: []uint32{0x79, 0x43, 0x21, 0x7E8}},
		{text: "\n", want: []uint32{0x79, 0x43, 0x21, 0x7E8}},
	}
	for _, s := range steps {
		_, err := applyFilter(ch, s.text)
		if (err != nil) != s.wantErr {
			t.Fatalf("applyFilter(%q) error = %v, wantErr %v", s.text, err, s.wantErr)
		}
		got := received(0x79, 0x43, 0x21, 0x7E8)
		if !slices.Equal(got, s.want) {
			t.Errorf("after applyFilter(%q) received %X, want %X", s.text, got, s.want)
		}
	}
}
