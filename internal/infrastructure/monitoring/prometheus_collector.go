package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

const namespace = "sfucore"

// PrometheusCollector records core lifecycle signals as Prometheus metrics.
type PrometheusCollector struct {
	roomsActive     prometheus.Gauge
	peersConnected  *prometheus.GaugeVec
	workers         *prometheus.GaugeVec
	producersActive *prometheus.GaugeVec
	consumersActive prometheus.Gauge
	wsConnections   prometheus.Gauge

	transportsTotal *prometheus.CounterVec
	operationsTotal *prometheus.CounterVec
	invitesTotal    *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
	roomInitDuration  prometheus.Histogram
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collector's metrics with reg.
// Pass prometheus.DefaultRegisterer to expose them on /metrics.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of open rooms",
		}),

		peersConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Number of peers in open rooms",
		}, []string{"class"}),

		workers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Media workers by state",
		}, []string{"state"}),

		producersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "producers_active",
			Help:      "Open producers by media kind",
		}, []string{"kind"}),

		consumersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consumers_active",
			Help:      "Open consumers",
		}),

		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket signaling connections",
		}),

		transportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transports_total",
			Help:      "Transports created",
		}, []string{"class", "direction"}),

		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_operations_total",
			Help:      "Controller operations by result code",
		}, []string{"op", "code"}),

		invitesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_total",
			Help:      "Invite codes by outcome",
		}, []string{"result"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "controller_operation_duration_seconds",
			Help:      "Controller operation latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),

		roomInitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_init_duration_seconds",
			Help:      "Time to create a room's router and audio observer",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (p *PrometheusCollector) RoomOpened() { p.roomsActive.Inc() }
func (p *PrometheusCollector) RoomClosed() { p.roomsActive.Dec() }

func (p *PrometheusCollector) RoomInitDuration(d time.Duration) {
	p.roomInitDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) PeerJoined(class domain.PeerClass) {
	p.peersConnected.WithLabelValues(string(class)).Inc()
}

func (p *PrometheusCollector) PeerLeft(class domain.PeerClass) {
	p.peersConnected.WithLabelValues(string(class)).Dec()
}

// WorkerStates replaces the worker gauges with a fresh snapshot. States
// absent from counts drop to zero.
func (p *PrometheusCollector) WorkerStates(counts map[domain.WorkerState]int) {
	for _, state := range []domain.WorkerState{domain.WorkerIdle, domain.WorkerRunning, domain.WorkerTerminated} {
		p.workers.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (p *PrometheusCollector) TransportCreated(class domain.TransportClass, direction domain.Direction) {
	p.transportsTotal.WithLabelValues(string(class), string(direction)).Inc()
}

func (p *PrometheusCollector) ProducerOpened(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ProducerClosed(kind domain.MediaKind) {
	p.producersActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) ConsumerOpened() { p.consumersActive.Inc() }
func (p *PrometheusCollector) ConsumerClosed() { p.consumersActive.Dec() }

func (p *PrometheusCollector) ControllerOp(op, code string, d time.Duration) {
	p.operationsTotal.WithLabelValues(op, code).Inc()
	p.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusCollector) Invite(result string) {
	p.invitesTotal.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) WSConnected()    { p.wsConnections.Inc() }
func (p *PrometheusCollector) WSDisconnected() { p.wsConnections.Dec() }
