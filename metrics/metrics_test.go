package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCounters(t *testing.T) {
	m := New()

	m.IncConnections()
	m.IncConnections()
	m.DecConnections()
	if got := m.GetActiveConnections(); got != 1 {
		t.Errorf("active connections: got %d, want 1", got)
	}
	if got := m.GetTotalConnections(); got != 2 {
		t.Errorf("total connections: got %d, want 2", got)
	}

	m.AddSegmentSent(100)
	m.AddSegmentSent(0) // pure control segment, no payload bytes
	m.AddSegmentResent()
	m.AddSegmentReceived(50)
	if got := m.GetSegmentsSent(); got != 2 {
		t.Errorf("segments sent: got %d, want 2", got)
	}
	if got := m.GetBytesSent(); got != 100 {
		t.Errorf("bytes sent: got %d, want 100", got)
	}
	if got := m.GetSegmentsResent(); got != 1 {
		t.Errorf("segments resent: got %d, want 1", got)
	}
	if got := m.GetBytesReceived(); got != 50 {
		t.Errorf("bytes received: got %d, want 50", got)
	}

	m.AddChecksumFailure()
	m.AddDuplicateReacked()
	m.AddGapDiscarded()
	m.AddRetransmitTimeout()
	if m.GetChecksumFailures() != 1 || m.GetDuplicatesReacked() != 1 ||
		m.GetGapsDiscarded() != 1 || m.GetRetransmitTimeouts() != 1 {
		t.Error("error counters did not record")
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *BtcpMetrics
	// metrics are optional: a nil collector must be a no-op, not a panic
	m.IncConnections()
	m.AddSegmentSent(10)
	m.AddChecksumFailure()
	m.AddRetransmitTimeout()
}

func TestCollectorRegisters(t *testing.T) {
	m := New()
	m.AddSegmentSent(42)

	registry := prometheus.NewRegistry()
	if err := registry.Register(NewBtcpCollector(m)); err != nil {
		t.Fatalf("collector registration failed: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "btcp_segment_sent_total" {
			found = true
			if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 1 {
				t.Errorf("btcp_segment_sent_total: got %v, want 1", v)
			}
		}
	}
	if !found {
		t.Error("btcp_segment_sent_total not exported")
	}
}
