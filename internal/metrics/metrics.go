package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aetherstake"

// Metrics records staking operations in a dedicated Prometheus registry
type Metrics struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rewardsPaid prometheus.Counter
}

// New creates the collectors and registers them along with the Go runtime
// and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Staking operations by operation and result.",
	}, []string{"op", "result"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Staking operation latency including lock wait.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"op"})

	rewardsPaid := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rewards_paid_total",
		Help:      "Reward paid out by claims and unstakes, in token base units.",
	})

	reg.MustRegister(operations)
	reg.MustRegister(duration)
	reg.MustRegister(rewardsPaid)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Metrics{
		registry:    reg,
		operations:  operations,
		duration:    duration,
		rewardsPaid: rewardsPaid,
	}
}

// Registry returns the registry backing the /metrics endpoint
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation counts one operation outcome and its latency
func (m *Metrics) ObserveOperation(op, result string, duration time.Duration) {
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

// AddRewardsPaid adds a payout to the rewards counter
func (m *Metrics) AddRewardsPaid(amount uint64) {
	m.rewardsPaid.Add(float64(amount))
}

// TrackGauge exposes a value sampled on every scrape
func (m *Metrics) TrackGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterRoutes mounts GET /metrics
func (m *Metrics) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(m.Handler()))
}
