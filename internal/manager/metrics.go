package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgelm",
			Subsystem: "manager",
			Name:      "state",
			Help:      "1 for the current lifecycle state, 0 otherwise",
		},
		[]string{"state"},
	)

	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelm",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Model loads by result",
		},
		[]string{"result"},
	)

	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelm",
			Subsystem: "manager",
			Name:      "calls_total",
			Help:      "Top-level calls by outcome",
		},
		[]string{"outcome"},
	)

	forcedCorrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgelm",
			Subsystem: "manager",
			Name:      "forced_corrections_total",
			Help:      "State corrections forced after a bounded wait or a stale call",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(stateGauge, loadsTotal, callsTotal, forcedCorrections)
}

func observeState(s State) {
	for i, name := range stateNames {
		v := 0.0
		if State(i) == s {
			v = 1
		}
		stateGauge.WithLabelValues(name).Set(v)
	}
}
