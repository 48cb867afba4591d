package canflash

// Transmitter submits frames to the bus.
type Transmitter interface {
	Transmit(Frame) error
}

// Receiver polls for a frame without suspending. An empty queue is reported
// as ErrWouldBlock.
type Receiver interface {
	ReceiveNonBlocking() (Frame, error)
}

// BlockingReceiver parks the calling goroutine until a frame arrives.
type BlockingReceiver interface {
	ReceiveBlocking() (Frame, error)
}

// FilteredReceiver is a receiver with hardware acceptance filtering.
type FilteredReceiver interface {
	Receiver
	BlockingReceiver
	FilterCapabilities() FilterCapabilities
	AddFilter(...Filter) error
	ClearFilters() error
}

// Bus is the minimal capability a request/acknowledge protocol needs.
type Bus interface {
	Transmitter
	BlockingReceiver
}

var (
	_ Bus              = (*Channel)(nil)
	_ FilteredReceiver = (*Channel)(nil)
	_ FilteredReceiver = (*Rx)(nil)
	_ Transmitter      = (*Tx)(nil)
)
