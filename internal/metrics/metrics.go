// Package metrics registers the Prometheus instrumentation this proxy
// exposes: request counters by route/outcome, a streaming-duration
// histogram, and a stall-timeout counter (this system's stall timeout is
// the one failure mode worth a dedicated counter, since it signals a
// misbehaving policy rather than a client or upstream problem).
//
// client_golang is already an indirect teacher dependency (pulled in
// transitively via koanf/redis); this package is what promotes it to a
// direct one, grounded in goadesign-goa-ai and digitallysavvy-go-ai, the
// two pack repos that register client_golang metrics directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector this proxy registers. Callers construct
// one with New and pass it down to the orchestrator and httpapi layers;
// there is no package-level global so tests can register a fresh set
// without colliding with prometheus.DefaultRegisterer.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	StreamDuration    *prometheus.HistogramVec
	StallTimeoutTotal *prometheus.CounterVec
	EventsDropped     prometheus.Counter
}

// New registers every collector against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests and prometheus.DefaultRegisterer in
// production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "requests_total",
			Help:      "Total proxied requests by client format, route, and outcome.",
		}, []string{"client_format", "route", "outcome"}),

		StreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Name:      "stream_duration_seconds",
			Help:      "Duration of a streaming transaction from ingress to terminal event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client_format"}),

		StallTimeoutTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "stall_timeouts_total",
			Help:      "Transactions aborted by the stall monitor, by policy name.",
		}, []string{"policy"}),

		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "events_dropped_total",
			Help:      "Observability records dropped because the event sink fan-out queue was full.",
		}),
	}
}
