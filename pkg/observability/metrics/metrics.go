package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "submissions_total",
		Help:      "Total operations submitted, by kind",
	}, []string{"kind"})

	CompletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "completions_total",
		Help:      "Total completions released to the application, by result",
	}, []string{"result"})

	PendingSubmissions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raft_client",
		Name:      "pending_submissions",
		Help:      "Submissions awaiting in-order completion release",
	})

	RetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "retries_total",
		Help:      "Internal submission retries, by reason",
	}, []string{"reason"})

	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "reconnects_total",
		Help:      "Total reconnections to an alternate cluster member",
	})

	KeepAlivesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "keepalives_total",
		Help:      "Keep-alive round trips, by result",
	}, []string{"result"})

	SessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "sessions_expired_total",
		Help:      "Sessions terminated by expiration",
	})

	EventsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raft_client",
		Name:      "events_delivered_total",
		Help:      "Events released to listeners in index order, by event name",
	}, []string{"event"})

	EventsBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raft_client",
		Name:      "events_buffered",
		Help:      "Out-of-order events held back awaiting a gap fill",
	})

	ConnDials = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raft_client",
		Subsystem: "conn",
		Name:      "dials_total",
		Help:      "Total number of new transport connections dialed",
	})
	ConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raft_client",
		Subsystem: "conn",
		Name:      "reuse_total",
		Help:      "Total number of connection reuses from cache",
	})
	ConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raft_client",
		Subsystem: "conn",
		Name:      "evictions_total",
		Help:      "Total number of cached connections evicted",
	})
	ConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raft_client",
		Subsystem: "conn",
		Name:      "active",
		Help:      "Number of active cached connections",
	})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(SubmissionsTotal)
		prometheus.MustRegister(CompletionsTotal)
		prometheus.MustRegister(PendingSubmissions)
		prometheus.MustRegister(RetriesTotal)
		prometheus.MustRegister(ReconnectsTotal)
		prometheus.MustRegister(KeepAlivesTotal)
		prometheus.MustRegister(SessionsExpiredTotal)
		prometheus.MustRegister(EventsDeliveredTotal)
		prometheus.MustRegister(EventsBuffered)
		prometheus.MustRegister(ConnDials)
		prometheus.MustRegister(ConnReuse)
		prometheus.MustRegister(ConnEvictions)
		prometheus.MustRegister(ConnActive)
	})
}
