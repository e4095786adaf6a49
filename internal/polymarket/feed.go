package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/polymarket/ws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrStalePrice = errors.New("price is stale")

// BookFetcher loads a full order book snapshot for one token.
type BookFetcher interface {
	Book(ctx context.Context, tokenID string) (Book, error)
}

// Stream is a market channel connection.
type Stream interface {
	Subscribe(ctx context.Context, sub interface{}) error
	Run(ctx context.Context, handler func(json.RawMessage)) error
}

// askLadder tracks the ask side of one token's book.
type askLadder struct {
	levels    map[string]decimal.Decimal
	updatedAt time.Time
}

func (l *askLadder) reset(levels []Level) {
	l.levels = make(map[string]decimal.Decimal, len(levels))
	for _, lvl := range levels {
		l.set(lvl.Price, lvl.Size)
	}
}

func (l *askLadder) set(price, size decimal.Decimal) {
	if l.levels == nil {
		l.levels = make(map[string]decimal.Decimal)
	}
	key := price.String()
	if !size.IsPositive() {
		delete(l.levels, key)
		return
	}
	l.levels[key] = price
}

func (l *askLadder) best() (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, price := range l.levels {
		if !price.IsPositive() {
			continue
		}
		if !found || price.LessThan(best) {
			best = price
			found = true
		}
	}
	return best, found
}

// Feed maintains the best ask for the UP and DOWN tokens of one market from
// market channel updates, falling back to REST snapshots when stale.
type Feed struct {
	upToken   string
	downToken string
	books     BookFetcher
	maxAge    time.Duration
	clock     func() time.Time
	log       *zap.Logger

	mu     sync.Mutex
	ladder map[string]*askLadder
}

var _ exchange.PriceSource = (*Feed)(nil)

func NewFeed(upToken, downToken string, books BookFetcher, maxAge time.Duration, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		upToken:   upToken,
		downToken: downToken,
		books:     books,
		maxAge:    maxAge,
		clock:     func() time.Time { return time.Now().UTC() },
		log:       log,
		ladder: map[string]*askLadder{
			upToken:   {},
			downToken: {},
		},
	}
}

// Seed loads both books over REST.
func (f *Feed) Seed(ctx context.Context) error {
	for _, token := range []string{f.upToken, f.downToken} {
		if err := f.refresh(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// Stream subscribes to both tokens and applies updates until ctx ends.
func (f *Feed) Stream(ctx context.Context, stream Stream) error {
	if err := stream.Subscribe(ctx, ws.MarketSubscription(f.upToken, f.downToken)); err != nil {
		return err
	}
	return stream.Run(ctx, f.Handle)
}

type wireChange struct {
	AssetID string          `json:"asset_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    string          `json:"side"`
}

type wireEvent struct {
	EventType    string       `json:"event_type"`
	AssetID      string       `json:"asset_id"`
	Asks         []Level      `json:"asks"`
	Sells        []Level      `json:"sells"`
	Changes      []wireChange `json:"changes"`
	PriceChanges []wireChange `json:"price_changes"`
}

// Handle applies one market channel frame. Frames are either a single event
// or an array of events.
func (f *Feed) Handle(msg json.RawMessage) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 {
		return
	}
	var events []wireEvent
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			f.log.Debug("ignoring market frame", zap.Error(err))
			return
		}
	} else {
		var ev wireEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			f.log.Debug("ignoring market frame", zap.Error(err))
			return
		}
		events = append(events, ev)
	}
	now := f.clock()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range events {
		f.applyLocked(ev, now)
	}
}

func (f *Feed) applyLocked(ev wireEvent, now time.Time) {
	switch ev.EventType {
	case "book":
		l, ok := f.ladder[ev.AssetID]
		if !ok {
			return
		}
		asks := ev.Asks
		if len(asks) == 0 {
			asks = ev.Sells
		}
		l.reset(asks)
		l.updatedAt = now
	case "price_change":
		changes := ev.PriceChanges
		if len(changes) == 0 {
			changes = ev.Changes
		}
		for _, ch := range changes {
			asset := ch.AssetID
			if asset == "" {
				asset = ev.AssetID
			}
			l, ok := f.ladder[asset]
			if !ok || ch.Side != "SELL" {
				continue
			}
			l.set(ch.Price, ch.Size)
			l.updatedAt = now
		}
	}
}

// BestPrices returns the best asks for UP and DOWN. A side older than maxAge
// is refreshed from REST first.
func (f *Feed) BestPrices(ctx context.Context, marketID string) (exchange.Ticker, error) {
	up, err := f.bestAsk(ctx, f.upToken)
	if err != nil {
		return exchange.Ticker{}, fmt.Errorf("%s: %w", exchange.SideUp, err)
	}
	down, err := f.bestAsk(ctx, f.downToken)
	if err != nil {
		return exchange.Ticker{}, fmt.Errorf("%s: %w", exchange.SideDown, err)
	}
	return exchange.Ticker{
		MarketID:  marketID,
		PriceUp:   up.InexactFloat64(),
		PriceDown: down.InexactFloat64(),
		Timestamp: f.clock(),
	}, nil
}

func (f *Feed) bestAsk(ctx context.Context, token string) (decimal.Decimal, error) {
	if price, ok, fresh := f.cached(token); ok && fresh {
		return price, nil
	} else if f.books == nil {
		if !ok {
			return decimal.Zero, exchange.ErrNoPrice
		}
		return decimal.Zero, ErrStalePrice
	}
	if err := f.refresh(ctx, token); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrStalePrice, err)
	}
	price, ok, _ := f.cached(token)
	if !ok {
		return decimal.Zero, exchange.ErrNoPrice
	}
	return price, nil
}

func (f *Feed) cached(token string) (decimal.Decimal, bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.ladder[token]
	if l == nil || l.updatedAt.IsZero() {
		return decimal.Zero, false, false
	}
	price, ok := l.best()
	fresh := f.maxAge <= 0 || f.clock().Sub(l.updatedAt) <= f.maxAge
	return price, ok, fresh
}

func (f *Feed) refresh(ctx context.Context, token string) error {
	if f.books == nil {
		return errors.New("no book source")
	}
	book, err := f.books.Book(ctx, token)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.ladder[token]
	if l == nil {
		return fmt.Errorf("unknown token %s", token)
	}
	l.reset(book.Asks)
	l.updatedAt = f.clock()
	return nil
}
