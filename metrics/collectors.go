package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BtcpCollector adapts BtcpMetrics to the prometheus.Collector interface.
type BtcpCollector struct {
	metrics *BtcpMetrics

	activeConnsDesc   *prometheus.Desc
	totalConnsDesc    *prometheus.Desc
	segmentsSentDesc  *prometheus.Desc
	segmentsRsntDesc  *prometheus.Desc
	segmentsRcvdDesc  *prometheus.Desc
	bytesSentDesc     *prometheus.Desc
	bytesReceivedDesc *prometheus.Desc
	checksumFailDesc  *prometheus.Desc
	malformedDesc     *prometheus.Desc
	duplicatesDesc    *prometheus.Desc
	gapsDesc          *prometheus.Desc
	rtoDesc           *prometheus.Desc
	abortedDesc       *prometheus.Desc
	handshakesDesc    *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewBtcpCollector creates a collector over the given metrics instance.
func NewBtcpCollector(m *BtcpMetrics) *BtcpCollector {
	namespace := "btcp"

	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, name),
			help, nil, nil,
		)
	}

	return &BtcpCollector{
		metrics: m,

		activeConnsDesc:   desc("conn", "active", "Number of currently established connections"),
		totalConnsDesc:    desc("conn", "total", "Total number of connections ever established"),
		segmentsSentDesc:  desc("segment", "sent_total", "Total segments sent (first transmissions)"),
		segmentsRsntDesc:  desc("segment", "resent_total", "Total segments retransmitted"),
		segmentsRcvdDesc:  desc("segment", "received_total", "Total valid segments received"),
		bytesSentDesc:     desc("stream", "bytes_sent_total", "Total payload bytes sent"),
		bytesReceivedDesc: desc("stream", "bytes_received_total", "Total payload bytes delivered in order"),
		checksumFailDesc:  desc("segment", "checksum_failures_total", "Segments dropped due to checksum mismatch"),
		malformedDesc:     desc("segment", "malformed_total", "Segments dropped as malformed"),
		duplicatesDesc:    desc("segment", "duplicates_reacked_total", "Duplicate data segments discarded but re-acknowledged"),
		gapsDesc:          desc("segment", "gaps_discarded_total", "Out-of-order data segments discarded"),
		rtoDesc:           desc("timer", "retransmit_timeouts_total", "Retransmission timer expiries"),
		abortedDesc:       desc("conn", "aborted_total", "Connections aborted after retry exhaustion"),
		handshakesDesc:    desc("conn", "handshakes_total", "Completed three-way handshakes"),
		uptimeDesc:        desc("", "uptime_seconds", "Seconds since the core started"),
	}
}

func (c *BtcpCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConnsDesc
	ch <- c.totalConnsDesc
	ch <- c.segmentsSentDesc
	ch <- c.segmentsRsntDesc
	ch <- c.segmentsRcvdDesc
	ch <- c.bytesSentDesc
	ch <- c.bytesReceivedDesc
	ch <- c.checksumFailDesc
	ch <- c.malformedDesc
	ch <- c.duplicatesDesc
	ch <- c.gapsDesc
	ch <- c.rtoDesc
	ch <- c.abortedDesc
	ch <- c.handshakesDesc
	ch <- c.uptimeDesc
}

func (c *BtcpCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}

	gauge(c.activeConnsDesc, float64(m.GetActiveConnections()))
	counter(c.totalConnsDesc, float64(m.GetTotalConnections()))
	counter(c.segmentsSentDesc, float64(m.GetSegmentsSent()))
	counter(c.segmentsRsntDesc, float64(m.GetSegmentsResent()))
	counter(c.segmentsRcvdDesc, float64(m.GetSegmentsReceived()))
	counter(c.bytesSentDesc, float64(m.GetBytesSent()))
	counter(c.bytesReceivedDesc, float64(m.GetBytesReceived()))
	counter(c.checksumFailDesc, float64(m.GetChecksumFailures()))
	counter(c.malformedDesc, float64(m.GetMalformedSegments()))
	counter(c.duplicatesDesc, float64(m.GetDuplicatesReacked()))
	counter(c.gapsDesc, float64(m.GetGapsDiscarded()))
	counter(c.rtoDesc, float64(m.GetRetransmitTimeouts()))
	counter(c.abortedDesc, float64(m.GetConnectionsAborted()))
	counter(c.handshakesDesc, float64(m.GetHandshakesCompleted()))
	gauge(c.uptimeDesc, m.GetUptimeSeconds())
}
