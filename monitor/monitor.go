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

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	TurnsResolved  *prometheus.CounterVec
	StaleWrites    *prometheus.CounterVec
	StoreRetries   *prometheus.CounterVec
	BattlesEnded   *prometheus.CounterVec
	ActiveBattles  prometheus.Gauge
	Polls          *prometheus.CounterVec
	PollLatency    prometheus.Histogram
	RewardsSettled *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
// A nil reg uses the default prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TurnsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_resolved_total",
			Help:      "Resolved turns by outcome",
		}, []string{"outcome"}),
		StaleWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_writes_total",
			Help:      "Writes rejected by the session store as stale",
		}, []string{"op"}),
		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Session store calls retried after ErrStoreUnavailable",
		}, []string{"op"}),
		BattlesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_ended_total",
			Help:      "Battles ended by reason",
		}, []string{"reason"}),
		ActiveBattles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_battles",
			Help:      "Battles currently tracked by this process",
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Reconciliation polls by result",
		}, []string{"result"}),
		PollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_latency_seconds",
			Help:      "Session state fetch latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		RewardsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_settled_total",
			Help:      "Reward settlements by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.TurnsResolved,
		m.StaleWrites,
		m.StoreRetries,
		m.BattlesEnded,
		m.ActiveBattles,
		m.Polls,
		m.PollLatency,
		m.RewardsSettled,
	)

	return m
}

func (m *Metrics) TurnResolved(outcome string) {
	if m == nil {
		return
	}
	m.TurnsResolved.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StaleWrite(op string) {
	if m == nil {
		return
	}
	m.StaleWrites.WithLabelValues(op).Inc()
}

func (m *Metrics) StoreRetry(op string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) BattleEnded(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.BattlesEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) BattleStarted() {
	if m == nil {
		return
	}
	m.ActiveBattles.Inc()
}

func (m *Metrics) BattleStopped() {
	if m == nil {
		return
	}
	m.ActiveBattles.Dec()
}

func (m *Metrics) ObservePoll(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Polls.WithLabelValues(result).Inc()
	m.PollLatency.Observe(d.Seconds())
}

func (m *Metrics) RewardSettled(outcome string) {
	if m == nil {
		return
	}
	m.RewardsSettled.WithLabelValues(outcome).Inc()
}

// Monitor serves /metrics and a couple of expvar gauges.
type Monitor struct {
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

// NewMonitor registers a fresh set of metrics on reg, which also serves /metrics.
func NewMonitor(namespace string, reg *prometheus.Registry) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  reg,
		startTime: time.Now(),
	}
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

// Handler exposes the metrics and expvar endpoints on a new mux.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		m.IncRequests()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

var publishOnce sync.Once

// PublishExpvars publishes uptime and request count; only the first monitor in a process wins.
func (m *Monitor) PublishExpvars() {
	publishOnce.Do(func() {
		// 添加expvar指标
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			m.mutex.Lock()
			defer m.mutex.Unlock()
			return m.requestCount
		}))
	})
}

func (m *Monitor) IncRequests() {
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}
