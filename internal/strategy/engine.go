package strategy

import (
	"context"
	"sync"
	"time"

	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/market"
	"dump-hedge-bot/internal/metrics"

	"go.uber.org/zap"
)

// Engine runs the dump/hedge cycle for one market. Tick is driven externally;
// the engine owns no goroutines or timers.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	pending  *Config
	exchange exchange.Exchange
	log      *zap.Logger
	metrics  *metrics.Metrics
	observer Observer

	sm         *StateMachine
	bufferUp   *market.PriceBuffer
	bufferDown *market.PriceBuffer
	roundStart time.Time
	lastTicker exchange.Ticker

	leg1      exchange.Order
	lastCycle *CycleReport
}

func New(cfg Config, ex exchange.Exchange, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		exchange:   ex,
		log:        log,
		metrics:    metrics.NewNoop(),
		observer:   NopObserver{},
		sm:         NewStateMachine(),
		bufferUp:   market.NewPriceBuffer(BufferWindow),
		bufferDown: market.NewPriceBuffer(BufferWindow),
		roundStart: ex.Now(),
	}
}

func (e *Engine) SetObserver(observer Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if observer == nil {
		observer = NopObserver{}
	}
	e.observer = observer
}

func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m == nil {
		m = metrics.NewNoop()
	}
	e.metrics = m
}

// SetConfig stages cfg for the next cycle. The running cycle keeps its config
// until ResetCycle.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = &cfg
	return nil
}

// Tick fetches the current ticker, records it and advances the cycle. Failures
// are logged and passed to the observer; the state is left as it was.
func (e *Engine) Tick(ctx context.Context) {
	var notes []func(Observer)
	e.mu.Lock()
	observer := e.observer
	notes = e.tickLocked(ctx, notes)
	e.mu.Unlock()
	for _, note := range notes {
		note(observer)
	}
}

func (e *Engine) tickLocked(ctx context.Context, notes []func(Observer)) []func(Observer) {
	e.metrics.Ticks.Inc()
	now := e.exchange.Now()
	ticker, err := e.exchange.Ticker(ctx, e.cfg.MarketID)
	if err != nil {
		e.metrics.TickerFailed.Inc()
		e.log.Warn("ticker fetch failed", zap.String("market_id", e.cfg.MarketID), zap.Error(err))
		return append(notes, func(o Observer) { o.OnError(err) })
	}

	e.bufferUp.Add(ticker.PriceUp, now)
	e.bufferDown.Add(ticker.PriceDown, now)
	e.lastTicker = ticker

	switch e.sm.Current() {
	case StateWatching:
		notes = e.checkDump(ctx, ticker, now, notes)
	case StateLeg1Bought:
		notes = e.checkHedge(ctx, ticker, now, notes)
	case StateDone:
	}

	state := e.sm.Current()
	return append(notes, func(o Observer) { o.OnTick(ticker, now, state) })
}

func (e *Engine) checkDump(ctx context.Context, ticker exchange.Ticker, now time.Time, notes []func(Observer)) []func(Observer) {
	if now.Sub(e.roundStart) > e.cfg.Leg1Window {
		return notes
	}
	for _, side := range []exchange.Side{exchange.SideUp, exchange.SideDown} {
		ref, ok := e.buffer(side).PriceAt(DumpLookback, now)
		if !ok || ref == 0 {
			continue
		}
		price := ticker.Price(side)
		drop := (ref - price) / ref
		if drop < e.cfg.DumpMovePct {
			continue
		}
		signal := DumpSignal{
			MarketID:  e.cfg.MarketID,
			Side:      side,
			Reference: ref,
			Price:     price,
			Drop:      drop,
			At:        now,
		}
		e.metrics.DumpsDetected.Inc()
		e.log.Info("dump detected",
			zap.String("market_id", e.cfg.MarketID),
			zap.String("side", string(side)),
			zap.Float64("reference", ref),
			zap.Float64("price", price),
			zap.Float64("drop_pct", drop*100),
		)
		notes = append(notes, func(o Observer) { o.OnDump(signal) })
		return e.executeLeg1(ctx, side, price, notes)
	}
	return notes
}

func (e *Engine) executeLeg1(ctx context.Context, side exchange.Side, price float64, notes []func(Observer)) []func(Observer) {
	e.log.Info("placing leg1",
		zap.String("market_id", e.cfg.MarketID),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("size", e.cfg.PositionSize),
	)
	order, err := e.exchange.PlaceOrder(ctx, e.cfg.MarketID, side, e.cfg.PositionSize, price)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		e.log.Error("leg1 order failed",
			zap.String("market_id", e.cfg.MarketID),
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Error(err),
		)
		return append(notes, func(o Observer) { o.OnError(err) })
	}
	e.metrics.OrdersPlaced.Inc()
	e.leg1 = order
	e.sm.Apply(EventLeg1Filled)
	e.log.Info("leg1 filled, waiting for hedge",
		zap.String("order_id", order.ID),
		zap.String("side", string(side)),
		zap.Float64("entry", order.Price),
		zap.Float64("target", e.cfg.HedgeSumTarget),
	)
	return append(notes, func(o Observer) { o.OnLeg1(order) })
}

func (e *Engine) checkHedge(ctx context.Context, ticker exchange.Ticker, now time.Time, notes []func(Observer)) []func(Observer) {
	side := e.leg1.Side.Opposite()
	opposite := ticker.Price(side)
	sum := e.leg1.Price + opposite
	e.metrics.LastLegSum.Set(sum)
	if sum > e.cfg.HedgeSumTarget {
		return notes
	}
	e.log.Info("hedge condition met",
		zap.String("market_id", e.cfg.MarketID),
		zap.Float64("entry", e.leg1.Price),
		zap.Float64("opposite", opposite),
		zap.Float64("sum", sum),
		zap.Float64("target", e.cfg.HedgeSumTarget),
	)
	order, err := e.exchange.PlaceOrder(ctx, e.cfg.MarketID, side, e.cfg.PositionSize, opposite)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		e.log.Error("hedge order failed",
			zap.String("market_id", e.cfg.MarketID),
			zap.String("side", string(side)),
			zap.Float64("price", opposite),
			zap.Error(err),
		)
		return append(notes, func(o Observer) { o.OnError(err) })
	}
	e.metrics.OrdersPlaced.Inc()
	report := newCycleReport(e.cfg.MarketID, e.leg1, order, e.cfg.PositionSize, e.roundStart, now)
	e.lastCycle = &report
	e.sm.Apply(EventHedgeFilled)
	e.metrics.CyclesCompleted.Inc()
	e.metrics.LastCycleROI.Set(report.ROI)
	e.log.Info("cycle complete",
		zap.String("cycle_id", report.ID),
		zap.String("market_id", report.MarketID),
		zap.Float64("total_cost", report.TotalCost),
		zap.Float64("profit_per_share", report.ProfitPerShare),
		zap.Float64("roi_pct", report.ROIPercent()),
		zap.Float64("expected_profit", report.ExpectedProfit),
	)
	return append(notes, func(o Observer) { o.OnCycleComplete(report) })
}

// ResetCycle starts a new round. Price history is kept.
func (e *Engine) ResetCycle() {
	e.mu.Lock()
	e.sm.Apply(EventReset)
	e.leg1 = exchange.Order{}
	e.roundStart = e.exchange.Now()
	if e.pending != nil {
		e.cfg = *e.pending
		e.pending = nil
	}
	e.metrics.CycleResets.Inc()
	observer := e.observer
	e.log.Info("cycle reset", zap.String("market_id", e.cfg.MarketID), zap.Time("round_start", e.roundStart))
	e.mu.Unlock()
	observer.OnReset()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sm.Current()
}

// Leg1Side reports the side bought in leg 1, if any.
func (e *Engine) Leg1Side() (exchange.Side, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sm.Current() == StateWatching {
		return "", false
	}
	return e.leg1.Side, true
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := Status{
		State:      e.sm.Current(),
		MarketID:   e.cfg.MarketID,
		RoundStart: e.roundStart,
		LastTicker: e.lastTicker,
		Config:     e.cfg,
	}
	if status.State != StateWatching {
		status.Leg1Side = e.leg1.Side
		status.Leg1Price = e.leg1.Price
	}
	if e.lastCycle != nil {
		report := *e.lastCycle
		status.LastCycle = &report
	}
	if e.pending != nil {
		pending := *e.pending
		status.Pending = &pending
	}
	return status
}

// History returns a copy of the retained prices for side.
func (e *Engine) History(side exchange.Side) []market.PricePoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer(side).Points()
}

func (e *Engine) buffer(side exchange.Side) *market.PriceBuffer {
	if side == exchange.SideUp {
		return e.bufferUp
	}
	return e.bufferDown
}
