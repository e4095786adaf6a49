package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

var (
	ErrInvalidSize  = errors.New("invalid order size")
	ErrInvalidPrice = errors.New("invalid order price")
	ErrNoPrice      = errors.New("price unavailable")
)

// Order is a confirmed fill. Price is the fill price, which may differ from the
// requested limit.
type Order struct {
	ID        string
	MarketID  string
	Side      Side
	Price     float64
	Size      float64
	Timestamp time.Time
}

// Ticker carries the current best prices for both sides.
type Ticker struct {
	MarketID  string
	PriceUp   float64
	PriceDown float64
	Timestamp time.Time
}

func (t Ticker) Price(side Side) float64 {
	if side == SideUp {
		return t.PriceUp
	}
	return t.PriceDown
}

// Exchange is the capability set the strategy depends on.
type Exchange interface {
	Ticker(ctx context.Context, marketID string) (Ticker, error)
	PlaceOrder(ctx context.Context, marketID string, side Side, size, price float64) (Order, error)
	Now() time.Time
}

// PriceSource supplies best prices for a market without order capability.
type PriceSource interface {
	BestPrices(ctx context.Context, marketID string) (Ticker, error)
}

type FetchError struct {
	MarketID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch ticker %s: %v", e.MarketID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type OrderError struct {
	MarketID string
	Side     Side
	Size     float64
	Price    float64
	Err      error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order %s %s size %.4f @ %.4f: %v", e.MarketID, e.Side, e.Size, e.Price, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidSize) || errors.Is(err, ErrInvalidPrice) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func validateOrder(marketID string, side Side, size, price float64) error {
	if size <= 0 {
		return &OrderError{MarketID: marketID, Side: side, Size: size, Price: price, Err: ErrInvalidSize}
	}
	if price <= 0 || price >= 1 {
		return &OrderError{MarketID: marketID, Side: side, Size: size, Price: price, Err: ErrInvalidPrice}
	}
	return nil
}
