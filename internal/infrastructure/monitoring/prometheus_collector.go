package monitoring

import (
	"sync/atomic"
	"time"

	"orderlive/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector records gateway metrics. It also keeps plain atomic
// counters so the stats ticker can read totals back without scraping.
type PrometheusCollector struct {
	connectionsActive prometheus.Gauge
	roomsActive       prometheus.Gauge
	eventsTotal       *prometheus.CounterVec
	recipientsTotal   prometheus.Counter
	droppedSendsTotal prometheus.Counter
	ingestRequests    *prometheus.CounterVec
	broadcastSeconds  prometheus.Histogram

	eventsBroadcast atomic.Uint64
	droppedSends    atomic.Uint64
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orderlive_connections_active",
			Help: "Number of live websocket connections",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orderlive_rooms_active",
			Help: "Number of rooms with at least one member",
		}),

		eventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orderlive_events_broadcast_total",
			Help: "Total number of domain events fanned out",
		}, []string{"kind"}),

		recipientsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orderlive_event_recipients_total",
			Help: "Total number of successful event deliveries",
		}),

		droppedSendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orderlive_dropped_sends_total",
			Help: "Total number of deliveries dropped on dead connections",
		}),

		ingestRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orderlive_ingest_requests_total",
			Help: "Total ingest API requests by status",
		}, []string{"status"}),

		broadcastSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orderlive_broadcast_duration_seconds",
			Help:    "Time spent fanning one event out to all recipients",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

func (p *PrometheusCollector) RecordBroadcast(kind domain.EventKind, recipients int) {
	p.eventsTotal.WithLabelValues(string(kind)).Inc()
	p.recipientsTotal.Add(float64(recipients))
	p.eventsBroadcast.Add(1)
}

func (p *PrometheusCollector) RecordDroppedSend() {
	p.droppedSendsTotal.Inc()
	p.droppedSends.Add(1)
}

func (p *PrometheusCollector) ObserveBroadcastDuration(d time.Duration) {
	p.broadcastSeconds.Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordIngestRequest(status string) {
	p.ingestRequests.WithLabelValues(status).Inc()
}

func (p *PrometheusCollector) SetConnections(n int) {
	p.connectionsActive.Set(float64(n))
}

func (p *PrometheusCollector) SetRooms(n int) {
	p.roomsActive.Set(float64(n))
}

func (p *PrometheusCollector) EventsBroadcast() uint64 {
	return p.eventsBroadcast.Load()
}

func (p *PrometheusCollector) DroppedSends() uint64 {
	return p.droppedSends.Load()
}
