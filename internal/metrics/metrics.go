package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes booking, queue, watch and RPC series. All methods are
// safe on a nil receiver.
type Metrics struct {
	appointmentsBooked *prometheus.CounterVec
	friendLinkJobs     *prometheus.CounterVec
	activeWatches      *prometheus.GaugeVec
	snapshotsSent      *prometheus.CounterVec
	rpcTotal           *prometheus.CounterVec
	rpcLatency         *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appointmentsBooked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "appointments",
			Name:      "booked_total",
			Help:      "Appointment bookings by chat link outcome",
		}, []string{"chat"}),
		friendLinkJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "queue",
			Name:      "friend_link_jobs_total",
			Help:      "Deferred chat link jobs by result",
		}, []string{"result"}),
		activeWatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "booking",
			Subsystem: "watch",
			Name:      "active",
			Help:      "Open watch streams",
		}, []string{"stream"}),
		snapshotsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "watch",
			Name:      "snapshots_sent_total",
			Help:      "Snapshots pushed to watch streams",
		}, []string{"stream"}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "RPCs by method and status code",
		}, []string{"method", "code"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "rpc",
			Name:      "latency_seconds",
			Help:      "Unary RPC latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.appointmentsBooked, m.friendLinkJobs, m.activeWatches,
		m.snapshotsSent, m.rpcTotal, m.rpcLatency)
	return m
}

func (m *Metrics) AppointmentBooked(outcome string) {
	if m == nil {
		return
	}
	m.appointmentsBooked.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FriendLinkJob(result string) {
	if m == nil {
		return
	}
	m.friendLinkJobs.WithLabelValues(result).Inc()
}

// WatchStarted counts an open stream; call the returned func when it ends.
func (m *Metrics) WatchStarted(stream string) func() {
	if m == nil {
		return func() {}
	}
	g := m.activeWatches.WithLabelValues(stream)
	g.Inc()
	return g.Dec
}

func (m *Metrics) SnapshotSent(stream string) {
	if m == nil {
		return
	}
	m.snapshotsSent.WithLabelValues(stream).Inc()
}

func (m *Metrics) ObserveRPC(method, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(method, code).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(took.Seconds())
}
