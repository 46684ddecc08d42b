// Package metrics exports Prometheus metrics about verification flows.
package metrics

import (
	"sync"
	"time"

	"go-identity-flow/flow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics observes flows. It implements flow.Observer.
type Metrics struct {
	// Transitions by source and target state
	Transitions *prometheus.CounterVec

	// Terminal outcomes by mode, outcome and failure kind
	Outcomes *prometheus.CounterVec

	// Flows that have started and not yet finished
	Active prometheus.Gauge

	// Time spent in each non-terminal state
	StageDuration *prometheus.HistogramVec

	// Latency of the remote identity call
	RemoteCallDuration prometheus.Histogram

	now     func() time.Time
	mutex   sync.Mutex
	entered map[string]time.Time
}

// New registers all flow metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idflow_flow_transitions_total",
			Help: "Flow state transitions by source and target state",
		}, []string{"from", "to"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idflow_flow_outcomes_total",
			Help: "Terminal flow outcomes by mode, outcome and failure kind",
		}, []string{"mode", "outcome", "kind"}),

		Active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "idflow_flows_active",
			Help: "Number of flows currently running",
		}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idflow_stage_duration_seconds",
			Help:    "Time spent in a flow state before leaving it",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"state"}),

		RemoteCallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "idflow_remote_call_duration_seconds",
			Help:    "Duration of identity service calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		now:     time.Now,
		entered: make(map[string]time.Time),
	}
}

func (m *Metrics) StateChanged(req flow.Request, from, to flow.State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()

	if from == flow.Idle {
		m.Active.Inc()
	}

	now := m.now()
	m.mutex.Lock()
	start, ok := m.entered[req.ID]
	if to == flow.Terminal {
		delete(m.entered, req.ID)
	} else {
		m.entered[req.ID] = now
	}
	m.mutex.Unlock()

	if !ok {
		return
	}
	elapsed := now.Sub(start)
	m.StageDuration.WithLabelValues(from.String()).Observe(elapsed.Seconds())
	if from == flow.ContactingRemoteService {
		m.RemoteCallDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) Finished(req flow.Request, outcome flow.Outcome) {
	if m == nil {
		return
	}
	kind := ""
	if outcome.Err != nil {
		kind = outcome.Err.Kind.String()
	}
	m.Outcomes.WithLabelValues(string(req.Mode), outcome.Kind.String(), kind).Inc()
	m.Active.Dec()
}
