// Package metrics exposes Prometheus counters for CAN traffic and firmware
// updates, mirrored into local atomics so tools can print a summary without
// scraping themselves.
package metrics

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames submitted to the transmit queue.",
	})
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames read from the receive queue.",
	})
	DrainedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_drained_frames_total",
		Help: "Stale frames discarded when a channel was opened.",
	})
	FilteredFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_software_filtered_frames_total",
		Help: "Frames admitted by a masked hardware filter but discarded in software.",
	})
	Acks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bootloader_acks_total",
		Help: "Bootloader acknowledgements received.",
	})
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bootloader_bytes_written_total",
		Help: "Firmware bytes acknowledged by the bootloader.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
)

// Error label values.
const (
	ErrTransmit = "transmit"
	ErrReceive  = "receive"
	ErrFilter   = "filter"
	ErrProtocol = "protocol"
)

var (
	localTx       uint64
	localRx       uint64
	localDrained  uint64
	localFiltered uint64
	localAcks     uint64
	localBytes    uint64
	localErrors   uint64
)

// Snapshot is a copy of the local counters.
type Snapshot struct {
	TxFrames       uint64
	RxFrames       uint64
	DrainedFrames  uint64
	FilteredFrames uint64
	Acks           uint64
	BytesWritten   uint64
	Errors         uint64
}

func Snap() Snapshot {
	return Snapshot{
		TxFrames:       atomic.LoadUint64(&localTx),
		RxFrames:       atomic.LoadUint64(&localRx),
		DrainedFrames:  atomic.LoadUint64(&localDrained),
		FilteredFrames: atomic.LoadUint64(&localFiltered),
		Acks:           atomic.LoadUint64(&localAcks),
		BytesWritten:   atomic.LoadUint64(&localBytes),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncDrained() {
	DrainedFrames.Inc()
	atomic.AddUint64(&localDrained, 1)
}

func IncFiltered() {
	FilteredFrames.Inc()
	atomic.AddUint64(&localFiltered, 1)
}

func IncAck() {
	Acks.Inc()
	atomic.AddUint64(&localAcks, 1)
}

func AddBytesWritten(n int) {
	BytesWritten.Add(float64(n))
	atomic.AddUint64(&localBytes, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// StartHTTP serves /metrics on addr in the background.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		log.Printf("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics http error: %v", err)
		}
	}()
	return srv
}
