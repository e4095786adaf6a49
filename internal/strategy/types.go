package strategy

import (
	"errors"
	"time"

	"dump-hedge-bot/internal/exchange"
)

type State string

type Event string

const (
	StateWatching   State = "WATCHING"
	StateLeg1Bought State = "LEG1_BOUGHT"
	StateDone       State = "DONE"
)

const (
	EventLeg1Filled  Event = "LEG1_FILLED"
	EventHedgeFilled Event = "HEDGE_FILLED"
	EventReset       Event = "RESET"
)

const (
	// BufferWindow is the retention horizon of each side's price history.
	BufferWindow = 5 * time.Second
	// DumpLookback is how far back the reference price for a dump is taken.
	DumpLookback = 3 * time.Second
)

type Config struct {
	MarketID       string        `json:"market_id"`
	PositionSize   float64       `json:"position_size"`
	HedgeSumTarget float64       `json:"hedge_sum_target"`
	DumpMovePct    float64       `json:"dump_move_pct"`
	Leg1Window     time.Duration `json:"leg1_window"`
}

func (c Config) Validate() error {
	if c.PositionSize <= 0 {
		return errors.New("position size must be > 0")
	}
	if c.HedgeSumTarget <= 0 || c.HedgeSumTarget > 1 {
		return errors.New("hedge sum target must be in (0, 1]")
	}
	if c.DumpMovePct <= 0 || c.DumpMovePct > 1 {
		return errors.New("dump move pct must be in (0, 1]")
	}
	if c.Leg1Window < 0 {
		return errors.New("leg1 window must be >= 0")
	}
	return nil
}

// DumpSignal describes a detected drop on one side.
type DumpSignal struct {
	MarketID  string
	Side      exchange.Side
	Reference float64
	Price     float64
	Drop      float64
	At        time.Time
}

type CycleReport struct {
	ID             string        `json:"id"`
	MarketID       string        `json:"market_id"`
	Leg1Side       exchange.Side `json:"leg1_side"`
	Leg1Price      float64       `json:"leg1_price"`
	Leg1OrderID    string        `json:"leg1_order_id"`
	Leg2Side       exchange.Side `json:"leg2_side"`
	Leg2Price      float64       `json:"leg2_price"`
	Leg2OrderID    string        `json:"leg2_order_id"`
	Size           float64       `json:"size"`
	TotalCost      float64       `json:"total_cost"`
	ProfitPerShare float64       `json:"profit_per_share"`
	ROI            float64       `json:"roi"`
	Notional       float64       `json:"notional"`
	ExpectedProfit float64       `json:"expected_profit"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// Status is a point-in-time copy of the engine's state.
type Status struct {
	State      State
	MarketID   string
	Leg1Side   exchange.Side
	Leg1Price  float64
	RoundStart time.Time
	LastTicker exchange.Ticker
	LastCycle  *CycleReport
	Config     Config
	Pending    *Config
}

// Observer receives engine events. Calls happen after the engine lock is
// released, in the order the events occurred within a tick.
type Observer interface {
	OnTick(ticker exchange.Ticker, now time.Time, state State)
	OnDump(signal DumpSignal)
	OnLeg1(order exchange.Order)
	OnCycleComplete(report CycleReport)
	OnReset()
	OnError(err error)
}

type NopObserver struct{}

func (NopObserver) OnTick(exchange.Ticker, time.Time, State) {}
func (NopObserver) OnDump(DumpSignal)                        {}
func (NopObserver) OnLeg1(exchange.Order)                    {}
func (NopObserver) OnCycleComplete(CycleReport)              {}
func (NopObserver) OnReset()                                 {}
func (NopObserver) OnError(error)                            {}
