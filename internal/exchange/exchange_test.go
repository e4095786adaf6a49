package exchange

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMockExchangeClockAndTicker(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := NewMockExchangeAt(start)
	mock.SetPrice(0.42, 0.61)
	mock.AdvanceTime(2 * time.Second)

	ticker, err := mock.Ticker(context.Background(), "m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticker.PriceUp != 0.42 || ticker.PriceDown != 0.61 {
		t.Fatalf("unexpected prices: %+v", ticker)
	}
	if !ticker.Timestamp.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("expected ticker stamped with mock clock, got %s", ticker.Timestamp)
	}
	if !mock.Now().Equal(start.Add(2 * time.Second)) {
		t.Fatalf("expected clock advanced, got %s", mock.Now())
	}
}

func TestMockExchangeSimulateDump(t *testing.T) {
	mock := NewMockExchange()
	mock.SimulateDump(SideDown, 0.3)
	ticker := mock.CurrentTicker()
	if ticker.PriceDown != 0.3 || ticker.PriceUp != 0.5 {
		t.Fatalf("unexpected prices after dump: %+v", ticker)
	}
}

func TestMockExchangeRejectsNonPositiveSize(t *testing.T) {
	mock := NewMockExchange()
	_, err := mock.PlaceOrder(context.Background(), "m", SideUp, 0, 0.4)
	if !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	var orderErr *OrderError
	if !errors.As(err, &orderErr) || orderErr.Side != SideUp {
		t.Fatalf("expected OrderError with side, got %v", err)
	}
	if len(mock.Orders()) != 0 {
		t.Fatalf("expected no recorded orders")
	}
}

func TestMockExchangeInjectedErrors(t *testing.T) {
	mock := NewMockExchange()
	boom := errors.New("boom")
	mock.SetTickerError(boom)
	_, err := mock.Ticker(context.Background(), "m")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !errors.Is(err, boom) {
		t.Fatalf("expected FetchError wrapping boom, got %v", err)
	}
	mock.SetTickerError(nil)
	mock.SetOrderError(boom)
	if _, err := mock.PlaceOrder(context.Background(), "m", SideUp, 1, 0.4); !errors.Is(err, boom) {
		t.Fatalf("expected order error, got %v", err)
	}
	mock.SetOrderError(nil)
	order, err := mock.PlaceOrder(context.Background(), "m", SideUp, 1, 0.4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Price != 0.4 || order.ID == "" {
		t.Fatalf("unexpected order: %+v", order)
	}
}

type staticSource struct {
	ticker Ticker
	err    error
}

func (s staticSource) BestPrices(ctx context.Context, marketID string) (Ticker, error) {
	_ = ctx
	if s.err != nil {
		return Ticker{}, s.err
	}
	t := s.ticker
	t.MarketID = marketID
	return t, nil
}

func TestPaperExchangeAppliesFee(t *testing.T) {
	paper := NewPaperExchange(staticSource{}, 0.01, zap.NewNop())
	order, err := paper.PlaceOrder(context.Background(), "m", SideDown, 10, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(order.Price-0.505) > 1e-12 {
		t.Fatalf("expected fill 0.505, got %f", order.Price)
	}
	if len(paper.Orders()) != 1 {
		t.Fatalf("expected 1 recorded order, got %d", len(paper.Orders()))
	}
}

func TestPaperExchangeValidatesOrders(t *testing.T) {
	paper := NewPaperExchange(staticSource{}, 0, zap.NewNop())
	if _, err := paper.PlaceOrder(context.Background(), "m", SideUp, -1, 0.5); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize, got %v", err)
	}
	if _, err := paper.PlaceOrder(context.Background(), "m", SideUp, 1, 1.2); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestPaperExchangeWrapsSourceErrors(t *testing.T) {
	paper := NewPaperExchange(staticSource{err: ErrNoPrice}, 0, zap.NewNop())
	_, err := paper.Ticker(context.Background(), "m")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected FetchError wrapping ErrNoPrice, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatalf("nil should not be retryable")
	}
	if Retryable(&OrderError{Err: ErrInvalidSize}) {
		t.Fatalf("invalid size should not be retryable")
	}
	if Retryable(context.Canceled) {
		t.Fatalf("canceled should not be retryable")
	}
	if !Retryable(errors.New("timeout")) {
		t.Fatalf("generic errors should be retryable")
	}
}

func TestSideOpposite(t *testing.T) {
	if SideUp.Opposite() != SideDown || SideDown.Opposite() != SideUp {
		t.Fatalf("unexpected opposite sides")
	}
}
