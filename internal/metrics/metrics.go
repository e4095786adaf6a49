package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	Ticks           Counter
	TickerFailed    Counter
	DumpsDetected   Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	CyclesCompleted Counter
	CycleResets     Counter
	LastLegSum      Gauge
	LastCycleROI    Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Ticks:           n,
		TickerFailed:    n,
		DumpsDetected:   n,
		OrdersPlaced:    n,
		OrdersFailed:    n,
		CyclesCompleted: n,
		CycleResets:     n,
		LastLegSum:      g,
		LastCycleROI:    g,
	}
}
