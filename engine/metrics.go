package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors the engine reports to. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	commands       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	snapshotWrites *prometheus.CounterVec
	minted         *prometheus.CounterVec
	spent          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbitchat",
			Name:      "commands_total",
			Help:      "Engine commands by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orbitchat",
			Name:      "command_duration_seconds",
			Help:      "Engine command latency including the snapshot write.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbitchat",
			Name:      "snapshot_writes_total",
			Help:      "Snapshot writes by result.",
		}, []string{"result"}),
		minted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbitchat",
			Name:      "currency_minted_total",
			Help:      "Currency created by admin grants and currency purchases.",
		}, []string{"source"}),
		spent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orbitchat",
			Name:      "currency_spent_total",
			Help:      "Currency removed from balances by shop purchases, gifts and spends.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.duration, m.snapshotWrites, m.minted, m.spent)
	}
	return m
}

func (m *Metrics) observeCommand(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.commands.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) snapshotWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.snapshotWrites.WithLabelValues("error").Inc()
		return
	}
	m.snapshotWrites.WithLabelValues("ok").Inc()
}

func (m *Metrics) mint(source string, amount int64) {
	if m == nil {
		return
	}
	m.minted.WithLabelValues(source).Add(float64(amount))
}

func (m *Metrics) spend(reason string, amount int64) {
	if m == nil {
		return
	}
	m.spent.WithLabelValues(reason).Add(float64(amount))
}
