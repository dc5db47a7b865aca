package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_events_total",
			Help: "Outcome events counted by the engine",
		},
		[]string{"kind"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_request_duration_seconds",
			Help:    "Duration of ticketing API calls",
			Buckets: []float64{.025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op", "result"}, // result: ok|timeout|network|http|decode
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_tick_duration_seconds",
			Help:    "Duration of one worker poll cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_active_workers",
			Help: "Workers currently registered with the engine",
		},
	)

	EngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_engine_state",
			Help: "1 for the engine's current lifecycle state, 0 otherwise",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(ActiveWorkers)
	prometheus.MustRegister(EngineState)
}

// SetEngineState flags current as the active state among all known states.
func SetEngineState(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		EngineState.WithLabelValues(s).Set(v)
	}
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
