package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe("get_value", "ok", 5*time.Millisecond)
	m.Observe("get_value", "ok", 7*time.Millisecond)
	m.Observe("fail_call", "error", time.Millisecond)

	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("get_value", "ok")); got != 2 {
		t.Errorf("calls_total{get_value,ok}: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("fail_call", "error")); got != 1 {
		t.Errorf("calls_total{fail_call,error}: got %v, want 1", got)
	}
}

func TestWorkerCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WorkersSpawned.Inc()
	m.WorkersSpawned.Inc()
	m.WorkersLost.Inc()

	if got := testutil.ToFloat64(m.WorkersSpawned); got != 2 {
		t.Errorf("workers_spawned: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.WorkersLost); got != 1 {
		t.Errorf("workers_lost: got %v, want 1", got)
	}
}
