// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the tether orchestrator's observability signals
// as Prometheus collectors. It implements tether.MetricsSink without
// importing package tether, so the dependency runs one way: metrics knows
// about Prometheus, the core knows only about the MetricsSink interface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// masterStateValue maps the master's string state name to a stable gauge
// value so a single time series can track it (0=initial, 1=alive, 2=error).
var masterStateValue = map[string]float64{
	"initial": 0,
	"alive":   1,
	"error":   2,
}

// Sink implements tether.MetricsSink, registering its collectors with reg.
type Sink struct {
	masterState prometheus.Gauge
	tetheredCnt prometheus.Gauge
	errorsTotal *prometheus.CounterVec
}

// New builds a Sink and registers its collectors with reg.
func New(reg prometheus.Registerer) *Sink {
	s := &Sink{
		masterState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tether",
			Subsystem: "master",
			Name:      "state",
			Help:      "Current master state machine phase (0=initial, 1=alive, 2=error).",
		}),
		tetheredCnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tether",
			Name:      "interfaces_tethered",
			Help:      "Number of downstream interfaces currently in the tethered state.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Name:      "errors_total",
			Help:      "Count of tether errors by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(s.masterState, s.tetheredCnt, s.errorsTotal)
	return s
}

// SetMasterState records the master's current phase.
func (s *Sink) SetMasterState(state string) {
	v, ok := masterStateValue[state]
	if !ok {
		v = -1
	}
	s.masterState.Set(v)
}

// SetTetheredCount records how many downstream interfaces are tethered.
func (s *Sink) SetTetheredCount(n int) {
	s.tetheredCnt.Set(float64(n))
}

// IncErrors increments the counter for a given error code.
func (s *Sink) IncErrors(code string) {
	s.errorsTotal.WithLabelValues(code).Inc()
}
