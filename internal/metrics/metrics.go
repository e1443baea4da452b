// Package metrics exposes the bot's Prometheus series:
//
//	vgbot_guardrail_rejections_total{stage}
//	vgbot_executions_total{side,intent}
//	vgbot_risk_denials_total{rule}
//	vgbot_trades_total{result}      win|loss|flat
//	vgbot_account_balance_usd
//	vgbot_open_exposure_usd
//	vgbot_trading_halted            0|1
//	vgbot_cycle_duration_seconds
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics holds every collector. Construct with New so collectors are
// registered exactly once per registry.
type Metrics struct {
	Rejections    *prometheus.CounterVec
	Executions    *prometheus.CounterVec
	RiskDenials   *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	Balance       prometheus.Gauge
	Exposure      prometheus.Gauge
	Halted        prometheus.Gauge
	CycleDuration prometheus.Histogram
}

// New creates and registers the collectors on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vgbot_guardrail_rejections_total", Help: "Orders rejected by the guardrail pipeline"},
			[]string{"stage"},
		),
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vgbot_executions_total", Help: "Orders confirmed filled"},
			[]string{"side", "intent"},
		),
		RiskDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vgbot_risk_denials_total", Help: "Entries denied by the risk gate"},
			[]string{"rule"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "vgbot_trades_total", Help: "Closed trades by result"},
			[]string{"result"},
		),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{Name: "vgbot_account_balance_usd", Help: "Risk gate account balance"}),
		Exposure: prometheus.NewGauge(prometheus.GaugeOpts{Name: "vgbot_open_exposure_usd", Help: "Total open notional"}),
		Halted: prometheus.NewGauge(prometheus.GaugeOpts{Name: "vgbot_trading_halted", Help: "1 while trading is halted"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vgbot_cycle_duration_seconds",
			Help:    "Wall time of one trading cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rejections, m.Executions, m.RiskDenials, m.Trades,
			m.Balance, m.Exposure, m.Halted, m.CycleDuration)
	}
	return m
}

// ObserveTrade counts a closed trade by the sign of its P&L.
func (m *Metrics) ObserveTrade(pnl decimal.Decimal) {
	switch {
	case pnl.IsPositive():
		m.Trades.WithLabelValues("win").Inc()
	case pnl.IsNegative():
		m.Trades.WithLabelValues("loss").Inc()
	default:
		m.Trades.WithLabelValues("flat").Inc()
	}
}

// SetAccount updates the balance and exposure gauges.
func (m *Metrics) SetAccount(balance, exposure decimal.Decimal) {
	m.Balance.Set(balance.InexactFloat64())
	m.Exposure.Set(exposure.InexactFloat64())
}

// SetHalted flips the halt gauge.
func (m *Metrics) SetHalted(halted bool) {
	if halted {
		m.Halted.Set(1)
		return
	}
	m.Halted.Set(0)
}
