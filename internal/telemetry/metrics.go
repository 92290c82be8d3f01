package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/fragline/internal/events"
)

// ActiveCounter reports the number of live sessions.
type ActiveCounter interface {
	ActiveCount() int
}

// Metrics holds the prometheus collectors fed from the event bus.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions prometheus.GaugeFunc
	Connections    prometheus.Counter
	Spawns         prometheus.Counter
	Drops          *prometheus.CounterVec
	Downloads      *prometheus.CounterVec
	FilterMatches  *prometheus.CounterVec
	Challenges     *prometheus.CounterVec

	SessionDuration prometheus.Histogram
}

// NewMetrics creates the collectors on a private registry. The active
// gauge reads from sessions at scrape time.
func NewMetrics(sessions ActiveCounter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActiveSessions: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fragline_active_sessions",
			Help: "Number of sessions above the zombie state",
		}, func() float64 {
			return float64(sessions.ActiveCount())
		}),

		Connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fragline_session_connects_total",
			Help: "Total number of accepted connects",
		}),

		Spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fragline_session_spawns_total",
			Help: "Total number of sessions that entered the game",
		}),

		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fragline_session_drops_total",
			Help: "Total number of dropped sessions by kind",
		}, []string{"reason"}),

		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fragline_downloads_total",
			Help: "File transfers by outcome",
		}, []string{"outcome"}),

		FilterMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fragline_filter_matches_total",
			Help: "Client commands caught by the filter list, by action",
		}, []string{"action"}),

		Challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fragline_reconnect_challenges_total",
			Help: "Forced reconnect challenges by stage",
		}, []string{"stage"}),

		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fragline_session_duration_seconds",
			Help:    "Lifetime of dropped sessions",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
	}

	m.registry.MustRegister(
		m.ActiveSessions,
		m.Connections,
		m.Spawns,
		m.Drops,
		m.Downloads,
		m.FilterMatches,
		m.Challenges,
		m.SessionDuration,
	)

	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Subscribe registers the metric handlers on the bus.
func (m *Metrics) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll("metrics", m.Observe)
}

// Observe updates the collectors for one event.
func (m *Metrics) Observe(_ context.Context, event events.Event) error {
	switch event.Type {
	case events.EventSessionConnected:
		m.Connections.Inc()
	case events.EventSessionSpawned:
		m.Spawns.Inc()
	case events.EventSessionDropped:
		if p, ok := event.Payload.(events.SessionDroppedPayload); ok {
			m.Drops.WithLabelValues(p.Kind.String()).Inc()
			if p.Duration > 0 {
				m.SessionDuration.Observe(p.Duration.Seconds())
			}
		}
	case events.EventDownloadStarted:
		m.Downloads.WithLabelValues("started").Inc()
	case events.EventDownloadFinished:
		m.Downloads.WithLabelValues("finished").Inc()
	case events.EventDownloadDenied:
		m.Downloads.WithLabelValues("denied").Inc()
	case events.EventFilterMatched:
		if p, ok := event.Payload.(events.FilterMatchedPayload); ok {
			m.FilterMatches.WithLabelValues(p.Action).Inc()
		}
	case events.EventChallengeIssued:
		m.Challenges.WithLabelValues("issued").Inc()
	case events.EventReconnectVerified:
		m.Challenges.WithLabelValues("verified").Inc()
	}
	return nil
}
