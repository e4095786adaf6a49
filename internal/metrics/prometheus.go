package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "dump_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	ticks           prometheus.Counter
	tickerFailed    prometheus.Counter
	dumpsDetected   prometheus.Counter
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
	cyclesCompleted prometheus.Counter
	cycleResets     prometheus.Counter
	lastLegSum      prometheus.Gauge
	lastCycleROI    prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:        registry,
		ticks:           newCounter("ticks_total", "Total number of strategy ticks evaluated."),
		tickerFailed:    newCounter("ticker_failed_total", "Total number of ticker fetch failures."),
		dumpsDetected:   newCounter("dumps_detected_total", "Total number of detected dumps."),
		ordersPlaced:    newCounter("orders_placed_total", "Total number of orders placed."),
		ordersFailed:    newCounter("orders_failed_total", "Total number of order placement failures."),
		cyclesCompleted: newCounter("cycles_completed_total", "Total number of hedged cycles completed."),
		cycleResets:     newCounter("cycle_resets_total", "Total number of cycle resets."),
		lastLegSum:      newGauge("last_leg_sum", "Entry price plus opposite price at the last hedge check."),
		lastCycleROI:    newGauge("last_cycle_roi", "Return on cost of the last completed cycle."),
	}
	registry.MustRegister(
		p.ticks,
		p.tickerFailed,
		p.dumpsDetected,
		p.ordersPlaced,
		p.ordersFailed,
		p.cyclesCompleted,
		p.cycleResets,
		p.lastLegSum,
		p.lastCycleROI,
	)
	p.Metrics = &Metrics{
		Ticks:           promCounter{p.ticks},
		TickerFailed:    promCounter{p.tickerFailed},
		DumpsDetected:   promCounter{p.dumpsDetected},
		OrdersPlaced:    promCounter{p.ordersPlaced},
		OrdersFailed:    promCounter{p.ordersFailed},
		CyclesCompleted: promCounter{p.cyclesCompleted},
		CycleResets:     promCounter{p.cycleResets},
		LastLegSum:      promGauge{p.lastLegSum},
		LastCycleROI:    promGauge{p.lastCycleROI},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
