package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/state"

	"go.uber.org/zap"
)

const orderKeyPrefix = "order:"

type Options struct {
	Attempts int
	Backoff  time.Duration
}

// Executor wraps an exchange with bounded retries and records confirmed orders
// in the store. Each call retries inside itself; the caller sees one result.
type Executor struct {
	inner    exchange.Exchange
	store    state.Store
	log      *zap.Logger
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ exchange.Exchange = (*Executor)(nil)

func New(inner exchange.Exchange, store state.Store, log *zap.Logger, opts Options) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Executor{
		inner:    inner,
		store:    store,
		log:      log,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    sleepCtx,
	}
}

func (e *Executor) Ticker(ctx context.Context, marketID string) (exchange.Ticker, error) {
	var ticker exchange.Ticker
	err := e.retry(ctx, "ticker", func() error {
		var err error
		ticker, err = e.inner.Ticker(ctx, marketID)
		return err
	})
	return ticker, err
}

func (e *Executor) PlaceOrder(ctx context.Context, marketID string, side exchange.Side, size, price float64) (exchange.Order, error) {
	var order exchange.Order
	err := e.retry(ctx, "place order", func() error {
		var err error
		order, err = e.inner.PlaceOrder(ctx, marketID, side, size, price)
		return err
	})
	if err != nil {
		return exchange.Order{}, err
	}
	e.record(ctx, order)
	return order, nil
}

func (e *Executor) Now() time.Time {
	return e.inner.Now()
}

// LoadOrder reads a recorded order back from the store.
func LoadOrder(ctx context.Context, store state.Store, id string) (exchange.Order, bool, error) {
	if store == nil {
		return exchange.Order{}, false, nil
	}
	raw, ok, err := store.Get(ctx, orderKeyPrefix+id)
	if err != nil || !ok {
		return exchange.Order{}, false, err
	}
	var order exchange.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return exchange.Order{}, false, err
	}
	return order, true, nil
}

func (e *Executor) record(ctx context.Context, order exchange.Order) {
	if e.store == nil || order.ID == "" {
		return
	}
	payload, err := json.Marshal(order)
	if err != nil {
		e.log.Warn("failed to encode order", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	if err := e.store.Set(ctx, orderKeyPrefix+order.ID, string(payload)); err != nil {
		e.log.Warn("failed to persist order", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	backoff := e.backoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !exchange.Retryable(err) {
			return err
		}
		if attempt >= e.attempts {
			if e.attempts == 1 {
				return err
			}
			return fmt.Errorf("%s: retry failed after %d attempts: %w", op, attempt, err)
		}
		e.log.Debug("retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		if err := e.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
