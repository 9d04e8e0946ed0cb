package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}

	if m.DatagramsReceived == nil {
		t.Error("DatagramsReceived metric is nil")
	}
	if m.DatagramsForwarded == nil {
		t.Error("DatagramsForwarded metric is nil")
	}
	if m.SendErrors == nil {
		t.Error("SendErrors metric is nil")
	}
}

func TestRecordReceive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordReceive(100)
	m.RecordReceive(1880)
	m.RecordReceive(5)

	if got := testutil.ToFloat64(m.DatagramsReceived); got != 3 {
		t.Errorf("DatagramsReceived = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 1985 {
		t.Errorf("BytesReceived = %v, want 1985", got)
	}
	if got := testutil.CollectAndCount(m.DatagramSize); got != 1 {
		t.Errorf("DatagramSize series = %d, want 1", got)
	}
}

func TestRecordForwardPerDestination(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordForward("127.0.0.1:5000", 10)
	m.RecordForward("127.0.0.1:5000", 20)
	m.RecordForward("127.0.0.1:5001", 10)

	if got := testutil.ToFloat64(m.DatagramsForwarded.WithLabelValues("127.0.0.1:5000")); got != 2 {
		t.Errorf("DatagramsForwarded[5000] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesForwarded.WithLabelValues("127.0.0.1:5000")); got != 30 {
		t.Errorf("BytesForwarded[5000] = %v, want 30", got)
	}
	if got := testutil.ToFloat64(m.DatagramsForwarded.WithLabelValues("127.0.0.1:5001")); got != 1 {
		t.Errorf("DatagramsForwarded[5001] = %v, want 1", got)
	}
}

func TestRecordErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSendError("10.0.0.1:9")
	m.RecordSendError("10.0.0.1:9")
	m.RecordReceiveError("transient")

	if got := testutil.ToFloat64(m.SendErrors.WithLabelValues("10.0.0.1:9")); got != 2 {
		t.Errorf("SendErrors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReceiveErrors.WithLabelValues("transient")); got != 1 {
		t.Errorf("ReceiveErrors[transient] = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetDestinations(3)
	if got := testutil.ToFloat64(m.Destinations); got != 3 {
		t.Errorf("Destinations = %v, want 3", got)
	}

	m.SetRelaying(true)
	if got := testutil.ToFloat64(m.Relaying); got != 1 {
		t.Errorf("Relaying = %v, want 1", got)
	}
	m.SetRelaying(false)
	if got := testutil.ToFloat64(m.Relaying); got != 0 {
		t.Errorf("Relaying = %v, want 0", got)
	}
}

func TestRecordFanout(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordFanout(0.0001)
	m.RecordFanout(0.002)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "udpmirror_fanout_latency_seconds" {
			continue
		}
		if got := fam.GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
			t.Errorf("fanout sample count = %d, want 2", got)
		}
		return
	}
	t.Error("fanout latency histogram not gathered")
}

func TestDefault(t *testing.T) {
	m1 := Default()
	m2 := Default()

	if m1 != m2 {
		t.Error("Default() should return the same instance")
	}
}
