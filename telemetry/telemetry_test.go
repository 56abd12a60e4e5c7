package telemetry

import "testing"

func TestTracerRingBufferBounded(t *testing.T) {
	tr := NewTracer(3)
	for i := 0; i < 10; i++ {
		s := tr.StartSpan("req")
		tr.EndSpan(s)
	}
	traces := tr.Traces()
	if len(traces) != 3 {
		t.Fatalf("expected ring bounded to 3, got %d", len(traces))
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/x", 200, 0)
	m.RecordRequest("/x", 500, 0)
	snap := m.Snapshot()
	if snap.TotalRequests != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", snap.TotalRequests)
	}
}
