package canflash_test

import (
	"testing"

	"github.com/roffe/canflash"
)

func TestTimingForRate(t *testing.T) {
	tests := []struct {
		kbit    float64
		want    canflash.Timing
		wantErr bool
	}{
		{kbit: 125, want: canflash.DefaultTiming},
		{kbit: 500, want: 0x001C},
		{kbit: 1000, want: 0x0014},
		{kbit: 42, wantErr: true},
	}
	for _, tt := range tests {
		got, err := canflash.TimingForRate(tt.kbit)
		if (err != nil) != tt.wantErr {
			t.Errorf("TimingForRate(%v) error = %v, wantErr %v", tt.kbit, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("TimingForRate(%v) = %s, want %s", tt.kbit, got, tt.want)
		}
	}
}

func TestAcceptanceValue(t *testing.T) {
	v := canflash.AcceptanceValue(0x01, 0x784)
	if v != 0x0000000100000784 {
		t.Errorf("AcceptanceValue() = 0x%016X", v)
	}
	if code, mask := canflash.SplitAcceptance(v); code != 0x01 || mask != 0x784 {
		t.Errorf("SplitAcceptance() = 0x%X, 0x%X", code, mask)
	}
}

func TestStatusString(t *testing.T) {
	if s := canflash.StatusQueueEmpty.String(); s != "receive queue is empty" {
		t.Errorf("StatusQueueEmpty.String() = %q", s)
	}
	if s := canflash.Status(0x3).String(); s != "driver status 0x00003" {
		t.Errorf("Status(3).String() = %q", s)
	}
}

func TestTransportError(t *testing.T) {
	err := &canflash.TransportError{Op: "write", Status: canflash.StatusTxQueueFull}
	if err.Error() != "write: driver status 0x00080" {
		t.Errorf("Error() = %q", err.Error())
	}
	err.Text = canflash.StatusTxQueueFull.String()
	if err.Error() != "write: transmit queue is full" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !canflash.IsTransportError(err) || canflash.IsTransportError(canflash.ErrTimeout) {
		t.Error("IsTransportError misclassifies")
	}
}
