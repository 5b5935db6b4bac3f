// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedClients  prometheus.Gauge
	MatchesCreated    prometheus.Counter
	MatchesSettled    prometheus.Counter
	MatchesCancelled  prometheus.Counter
	DepositsConfirmed prometheus.Counter
	PayoutsIssued     prometheus.Counter
	LedgerLatency     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of connected clients",
		}),
		MatchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_created_total",
			Help:      "Total number of matches created",
		}),
		MatchesSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_settled_total",
			Help:      "Total number of matches settled",
		}),
		MatchesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_cancelled_total",
			Help:      "Total number of matches cancelled",
		}),
		DepositsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_confirmed_total",
			Help:      "Total number of escrow deposits confirmed",
		}),
		PayoutsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payouts_issued_total",
			Help:      "Total number of payout instruction sets issued",
		}),
		LedgerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_latency_seconds",
			Help:      "Ledger provider call latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.ConnectedClients,
		m.MatchesCreated,
		m.MatchesSettled,
		m.MatchesCancelled,
		m.DepositsConfirmed,
		m.PayoutsIssued,
		m.LedgerLatency,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))
	mux.Handle("/debug/vars", expvar.Handler())

	go http.ListenAndServe(addr, mux)
}

func (m *Monitor) IncConnectedClients() {
	m.metrics.ConnectedClients.Inc()
}

func (m *Monitor) DecConnectedClients() {
	m.metrics.ConnectedClients.Dec()
}

func (m *Monitor) IncMatchesCreated() {
	m.metrics.MatchesCreated.Inc()
}

func (m *Monitor) IncMatchesSettled() {
	m.metrics.MatchesSettled.Inc()
}

func (m *Monitor) IncMatchesCancelled() {
	m.metrics.MatchesCancelled.Inc()
}

func (m *Monitor) IncDepositsConfirmed() {
	m.metrics.DepositsConfirmed.Inc()
}

func (m *Monitor) IncPayoutsIssued() {
	m.metrics.PayoutsIssued.Inc()
}

func (m *Monitor) ObserveLedgerLatency(duration time.Duration) {
	m.metrics.LedgerLatency.Observe(duration.Seconds())
}

func (m *Monitor) IncRequests() {
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}
