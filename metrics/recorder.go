// Package metrics wraps prometheus/client_golang counters for the three
// ambient signals the engine itself produces: FSM transitions, signing
// completions, and funding-watcher deliveries. It is independent of any
// HTTP surface; cmd/escrowd decides whether to expose a promhttp handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is a thin façade over a handful of prometheus collectors,
// registered against a caller-supplied registry so tests can use a
// throwaway one instead of prometheus.DefaultRegisterer.
type Recorder struct {
	fsmTransitions     *prometheus.CounterVec
	signingCompletions prometheus.Counter
	watcherDeliveries  *prometheus.CounterVec
}

// NewRecorder registers its collectors against reg and returns the
// Recorder.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		fsmTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "fsm_transitions_total",
			Help:      "Number of successful escrow FSM transitions, labeled by action.",
		}, []string{"action"}),
		signingCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "signing_completions_total",
			Help:      "Number of signing coordinators that reached completion.",
		}),
		watcherDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "funding_watcher_deliveries_total",
			Help:      "Number of funding watcher coin-set deliveries processed, labeled by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.fsmTransitions, r.signingCompletions, r.watcherDeliveries)
	return r
}

// RecordTransition increments the fsm_transitions_total counter for action.
func (r *Recorder) RecordTransition(action string) {
	if r == nil {
		return
	}
	r.fsmTransitions.WithLabelValues(action).Inc()
}

// RecordSigningComplete increments signing_completions_total.
func (r *Recorder) RecordSigningComplete() {
	if r == nil {
		return
	}
	r.signingCompletions.Inc()
}

// RecordWatcherDelivery increments funding_watcher_deliveries_total for
// outcome (the funding watcher passes "observed" or "error").
func (r *Recorder) RecordWatcherDelivery(outcome string) {
	if r == nil {
		return
	}
	r.watcherDeliveries.WithLabelValues(outcome).Inc()
}
