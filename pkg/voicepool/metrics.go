package voicepool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pool collectors. A nil *Metrics records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	calls         *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	queueWait     *prometheus.HistogramVec
	dropped       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_pool_cycles_total",
				Help: "Reconciliation cycles run, by group and chosen action.",
			},
			[]string{"group", "action"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_pool_calls_total",
				Help: "Channel API calls issued, by operation and result.",
			},
			[]string{"op", "result"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_pool_cycle_duration_seconds",
				Help:    "Wall time of one reconciliation cycle including renumbering.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"group"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "voice_pool_queue_depth",
				Help: "Triggers waiting in a group's queue.",
			},
			[]string{"group"},
		),
		queueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voice_pool_trigger_wait_seconds",
				Help:    "Time a trigger spent queued before its cycle started.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"group"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voice_pool_triggers_dropped_total",
				Help: "Triggers discarded because the service was stopping.",
			},
			[]string{"group"},
		),
	}
	if reg != nil {
		for _, c := range m.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.cycles, m.calls, m.cycleDuration, m.queueDepth, m.queueWait, m.dropped}
}

func (m *Metrics) cycle(group string, action Action, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(group, string(action)).Inc()
	m.cycleDuration.WithLabelValues(group).Observe(seconds)
}

func (m *Metrics) call(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) depth(group string, n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(group).Set(float64(n))
}

func (m *Metrics) waited(group string, seconds float64) {
	if m == nil {
		return
	}
	m.queueWait.WithLabelValues(group).Observe(seconds)
}

func (m *Metrics) drop(group string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.WithLabelValues(group).Add(float64(n))
}
