package tape

import (
	"context"
	"errors"
	"sync"
	"time"

	"dump-hedge-bot/internal/exchange"

	"github.com/google/uuid"
)

var ErrTapeEmpty = errors.New("tape has no records")

// ReplayExchange serves a recorded tape as an exchange. The clock and ticker
// both come from the current record; Advance moves to the next one.
type ReplayExchange struct {
	mu      sync.Mutex
	records []TickRecord
	pos     int
	orders  []exchange.Order
}

var _ exchange.Exchange = (*ReplayExchange)(nil)

func NewReplayExchange(records []TickRecord) (*ReplayExchange, error) {
	if len(records) == 0 {
		return nil, ErrTapeEmpty
	}
	for i := 1; i < len(records); i++ {
		if records[i].UnixMS < records[i-1].UnixMS {
			return nil, errors.New("tape timestamps must be non-decreasing")
		}
	}
	return &ReplayExchange{records: records}, nil
}

// Advance moves to the next record and reports whether one was available.
func (r *ReplayExchange) Advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos+1 >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *ReplayExchange) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) - r.pos - 1
}

func (r *ReplayExchange) Ticker(ctx context.Context, marketID string) (exchange.Ticker, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.records[r.pos].Ticker()
	if marketID != "" && t.MarketID != "" && t.MarketID != marketID {
		return exchange.Ticker{}, &exchange.FetchError{MarketID: marketID, Err: exchange.ErrNoPrice}
	}
	if marketID != "" {
		t.MarketID = marketID
	}
	return t, nil
}

func (r *ReplayExchange) PlaceOrder(ctx context.Context, marketID string, side exchange.Side, size, price float64) (exchange.Order, error) {
	_ = ctx
	if size <= 0 {
		return exchange.Order{}, &exchange.OrderError{MarketID: marketID, Side: side, Size: size, Price: price, Err: exchange.ErrInvalidSize}
	}
	if price <= 0 || price >= 1 {
		return exchange.Order{}, &exchange.OrderError{MarketID: marketID, Side: side, Size: size, Price: price, Err: exchange.ErrInvalidPrice}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order := exchange.Order{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: r.records[r.pos].Time(),
	}
	r.orders = append(r.orders, order)
	return order, nil
}

func (r *ReplayExchange) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[r.pos].Time()
}

func (r *ReplayExchange) Orders() []exchange.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]exchange.Order, len(r.orders))
	copy(out, r.orders)
	return out
}
