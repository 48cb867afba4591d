package canflash

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned by non-blocking receives when the queue is
	// empty. It is not a failure.
	ErrWouldBlock = errors.New("would block")

	ErrInvalidFrame               = errors.New("invalid frame")
	ErrInsufficientFilterCapacity = errors.New("insufficient filter capacity")
	ErrFilterAlreadyConfigured    = errors.New("cannot configure more than one filter")
	ErrTimeout                    = errors.New("timeout waiting for frame")
	ErrChannelClosed              = errors.New("channel closed")
	ErrNilDriver                  = errors.New("driver is nil")
)

// TransportError is a failure reported by the native driver. Text is the
// driver's own description of Status.
type TransportError struct {
	Op     string
	Status Status
	Text   string
}

func (e *TransportError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%s: driver status 0x%05X", e.Op, uint32(e.Status))
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Text)
}

func newTransportError(d Driver, op string, st Status) error {
	return &TransportError{Op: op, Status: st, Text: d.ErrorText(st)}
}

// IsTransportError reports whether err carries a native driver status.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
