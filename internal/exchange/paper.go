package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaperExchange fills orders against live prices without touching the venue.
// Fills land at the requested price marked up by feeRate.
type PaperExchange struct {
	source  PriceSource
	feeRate float64
	clock   func() time.Time
	log     *zap.Logger

	mu     sync.Mutex
	orders []Order
}

func NewPaperExchange(source PriceSource, feeRate float64, log *zap.Logger) *PaperExchange {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaperExchange{
		source:  source,
		feeRate: feeRate,
		clock:   func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

func (p *PaperExchange) Ticker(ctx context.Context, marketID string) (Ticker, error) {
	if p.source == nil {
		return Ticker{}, &FetchError{MarketID: marketID, Err: ErrNoPrice}
	}
	t, err := p.source.BestPrices(ctx, marketID)
	if err != nil {
		return Ticker{}, &FetchError{MarketID: marketID, Err: err}
	}
	return t, nil
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, marketID string, side Side, size, price float64) (Order, error) {
	_ = ctx
	if err := validateOrder(marketID, side, size, price); err != nil {
		return Order{}, err
	}
	fill := price
	if p.feeRate > 0 {
		fill = price * (1 + p.feeRate)
	}
	order := Order{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		Side:      side,
		Price:     fill,
		Size:      size,
		Timestamp: p.clock(),
	}
	p.mu.Lock()
	p.orders = append(p.orders, order)
	p.mu.Unlock()
	p.log.Info("paper fill",
		zap.String("order_id", order.ID),
		zap.String("market_id", marketID),
		zap.String("side", string(side)),
		zap.Float64("size", size),
		zap.Float64("limit", price),
		zap.Float64("fill", fill),
	)
	return order, nil
}

func (p *PaperExchange) Now() time.Time {
	return p.clock()
}

func (p *PaperExchange) Orders() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, len(p.orders))
	copy(out, p.orders)
	return out
}
