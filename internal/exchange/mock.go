package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const MockMarketID = "mock-market"

// MockExchange is a simulated market with a manually driven clock.
type MockExchange struct {
	mu        sync.Mutex
	ticker    Ticker
	now       time.Time
	tickerErr error
	orderErr  error
	orders    []Order
}

func NewMockExchange() *MockExchange {
	return NewMockExchangeAt(time.Now().UTC())
}

func NewMockExchangeAt(start time.Time) *MockExchange {
	return &MockExchange{
		now: start,
		ticker: Ticker{
			MarketID:  MockMarketID,
			PriceUp:   0.50,
			PriceDown: 0.50,
			Timestamp: start,
		},
	}
}

func (m *MockExchange) SetPrice(up, down float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticker.PriceUp = up
	m.ticker.PriceDown = down
}

func (m *MockExchange) AdvanceTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SimulateDump moves one side to the given price.
func (m *MockExchange) SimulateDump(side Side, to float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if side == SideUp {
		m.ticker.PriceUp = to
		return
	}
	m.ticker.PriceDown = to
}

func (m *MockExchange) CurrentTicker() Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ticker
	t.Timestamp = m.now
	return t
}

// SetTickerError makes Ticker fail with err until cleared with nil.
func (m *MockExchange) SetTickerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerErr = err
}

// SetOrderError makes PlaceOrder fail with err until cleared with nil.
func (m *MockExchange) SetOrderError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderErr = err
}

func (m *MockExchange) Orders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *MockExchange) Ticker(ctx context.Context, marketID string) (Ticker, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickerErr != nil {
		return Ticker{}, &FetchError{MarketID: marketID, Err: m.tickerErr}
	}
	m.ticker.Timestamp = m.now
	return m.ticker, nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, marketID string, side Side, size, price float64) (Order, error) {
	_ = ctx
	if size <= 0 {
		return Order{}, &OrderError{MarketID: marketID, Side: side, Size: size, Price: price, Err: ErrInvalidSize}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderErr != nil {
		return Order{}, &OrderError{MarketID: marketID, Side: side, Size: size, Price: price, Err: m.orderErr}
	}
	order := Order{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: m.now,
	}
	m.orders = append(m.orders, order)
	return order, nil
}

func (m *MockExchange) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
