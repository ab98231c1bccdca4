// Package metrics collects protocol counters and exposes them over a
// prometheus endpoint.
package metrics

import (
	"sync/atomic"
	"time"
)

// BtcpMetrics aggregates counters for one bTCP core. All methods are safe
// for concurrent use; counters are plain atomics so the hot path stays cheap.
type BtcpMetrics struct {
	activeConnections int64
	totalConnections  uint64

	segmentsSent     uint64
	segmentsResent   uint64
	segmentsReceived uint64

	bytesSent     uint64
	bytesReceived uint64

	checksumFailures    uint64
	malformedSegments   uint64
	duplicatesReacked   uint64
	gapsDiscarded       uint64
	retransmitTimeouts  uint64
	connectionsAborted  uint64
	handshakesCompleted uint64

	startTime time.Time
}

// New creates a metrics collector.
func New() *BtcpMetrics {
	return &BtcpMetrics{startTime: time.Now()}
}

func (m *BtcpMetrics) IncConnections() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.activeConnections, 1)
	atomic.AddUint64(&m.totalConnections, 1)
}

func (m *BtcpMetrics) DecConnections() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.activeConnections, -1)
}

func (m *BtcpMetrics) AddSegmentSent(payloadBytes int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.segmentsSent, 1)
	if payloadBytes > 0 {
		atomic.AddUint64(&m.bytesSent, uint64(payloadBytes))
	}
}

func (m *BtcpMetrics) AddSegmentResent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.segmentsResent, 1)
}

func (m *BtcpMetrics) AddSegmentReceived(payloadBytes int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.segmentsReceived, 1)
	if payloadBytes > 0 {
		atomic.AddUint64(&m.bytesReceived, uint64(payloadBytes))
	}
}

func (m *BtcpMetrics) AddChecksumFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.checksumFailures, 1)
}

func (m *BtcpMetrics) AddMalformedSegment() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.malformedSegments, 1)
}

func (m *BtcpMetrics) AddDuplicateReacked() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.duplicatesReacked, 1)
}

func (m *BtcpMetrics) AddGapDiscarded() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.gapsDiscarded, 1)
}

func (m *BtcpMetrics) AddRetransmitTimeout() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.retransmitTimeouts, 1)
}

func (m *BtcpMetrics) AddConnectionAborted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.connectionsAborted, 1)
}

func (m *BtcpMetrics) AddHandshakeCompleted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.handshakesCompleted, 1)
}

func (m *BtcpMetrics) GetActiveConnections() int64 { return atomic.LoadInt64(&m.activeConnections) }
func (m *BtcpMetrics) GetTotalConnections() uint64 { return atomic.LoadUint64(&m.totalConnections) }
func (m *BtcpMetrics) GetSegmentsSent() uint64     { return atomic.LoadUint64(&m.segmentsSent) }
func (m *BtcpMetrics) GetSegmentsResent() uint64   { return atomic.LoadUint64(&m.segmentsResent) }
func (m *BtcpMetrics) GetSegmentsReceived() uint64 { return atomic.LoadUint64(&m.segmentsReceived) }
func (m *BtcpMetrics) GetBytesSent() uint64        { return atomic.LoadUint64(&m.bytesSent) }
func (m *BtcpMetrics) GetBytesReceived() uint64    { return atomic.LoadUint64(&m.bytesReceived) }
func (m *BtcpMetrics) GetChecksumFailures() uint64 { return atomic.LoadUint64(&m.checksumFailures) }
func (m *BtcpMetrics) GetMalformedSegments() uint64 {
	return atomic.LoadUint64(&m.malformedSegments)
}
func (m *BtcpMetrics) GetDuplicatesReacked() uint64 {
	return atomic.LoadUint64(&m.duplicatesReacked)
}
func (m *BtcpMetrics) GetGapsDiscarded() uint64 { return atomic.LoadUint64(&m.gapsDiscarded) }
func (m *BtcpMetrics) GetRetransmitTimeouts() uint64 {
	return atomic.LoadUint64(&m.retransmitTimeouts)
}
func (m *BtcpMetrics) GetConnectionsAborted() uint64 {
	return atomic.LoadUint64(&m.connectionsAborted)
}
func (m *BtcpMetrics) GetHandshakesCompleted() uint64 {
	return atomic.LoadUint64(&m.handshakesCompleted)
}

// GetUptimeSeconds returns seconds since the collector was created.
func (m *BtcpMetrics) GetUptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}
