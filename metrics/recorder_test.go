package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordTransition("fund")
	r.RecordTransition("fund")
	r.RecordTransition("settle")

	if got := testutil.ToFloat64(r.fsmTransitions.WithLabelValues("fund")); got != 2 {
		t.Fatalf("expected 2 fund transitions, got %v", got)
	}
	if got := testutil.ToFloat64(r.fsmTransitions.WithLabelValues("settle")); got != 1 {
		t.Fatalf("expected 1 settle transition, got %v", got)
	}
}

func TestRecorderNilIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordTransition("fund")
	r.RecordSigningComplete()
	r.RecordWatcherDelivery("funded")
}
