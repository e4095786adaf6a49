package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/state"
	"dump-hedge-bot/internal/strategy"
	"dump-hedge-bot/internal/tape"
	"dump-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

const sideEffectTimeout = 5 * time.Second

// observer fans engine events out to the journal, timescale, the tape and
// telegram.
type observer struct {
	app        *App
	tapeWarned atomic.Bool
}

var _ strategy.Observer = (*observer)(nil)

func newObserver(a *App) *observer {
	return &observer{app: a}
}

func (o *observer) OnTick(ticker exchange.Ticker, now time.Time, st strategy.State) {
	a := o.app
	a.timescale.EnqueueTick(timescale.PriceTick{
		Time:      now,
		MarketID:  ticker.MarketID,
		PriceUp:   ticker.PriceUp,
		PriceDown: ticker.PriceDown,
		State:     string(st),
	})
	if a.recorder != nil {
		if err := a.recorder.Record(tape.FromTicker(ticker, now)); err != nil && o.tapeWarned.CompareAndSwap(false, true) {
			a.log.Warn("tape record failed", zap.Error(err))
		}
	}
}

func (o *observer) OnDump(signal strategy.DumpSignal) {}

func (o *observer) OnLeg1(order exchange.Order) {
	o.notify(fmt.Sprintf("leg1 filled: %s %.2f @ %.4f (%s)", order.Side, order.Size, order.Price, order.MarketID))
}

func (o *observer) OnCycleComplete(report strategy.CycleReport) {
	a := o.app
	a.timescale.EnqueueCycle(timescale.Cycle{
		Time:           report.CompletedAt,
		CycleID:        report.ID,
		MarketID:       report.MarketID,
		Leg1Side:       string(report.Leg1Side),
		Leg1Price:      report.Leg1Price,
		Leg2Price:      report.Leg2Price,
		Size:           report.Size,
		TotalCost:      report.TotalCost,
		ProfitPerShare: report.ProfitPerShare,
		ROI:            report.ROI,
	})
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := state.SaveCycle(ctx, a.store, cycleRecord(report)); err != nil {
		a.log.Warn("cycle journal write failed", zap.String("cycle_id", report.ID), zap.Error(err))
	}
	o.notify(fmt.Sprintf("cycle complete on %s: %s @ %.4f + %s @ %.4f, cost %.4f, profit/share %.4f, roi %.2f%%",
		report.MarketID,
		report.Leg1Side, report.Leg1Price,
		report.Leg2Side, report.Leg2Price,
		report.TotalCost,
		report.ProfitPerShare,
		report.ROIPercent(),
	))
}

func (o *observer) OnReset() {
	if r := o.app.recorder; r != nil {
		if err := r.Flush(); err != nil {
			o.app.log.Warn("tape flush failed", zap.Error(err))
		}
	}
}

func (o *observer) OnError(err error) {
	var orderErr *exchange.OrderError
	if errors.As(err, &orderErr) {
		o.notify(fmt.Sprintf("order rejected: %v", err))
	}
}

func (o *observer) notify(message string) {
	a := o.app
	if !a.alerts.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := a.alerts.Send(ctx, message); err != nil {
			a.log.Warn("telegram alert failed", zap.Error(err))
		}
	}()
}

func cycleRecord(report strategy.CycleReport) state.CycleRecord {
	return state.CycleRecord{
		ID:             report.ID,
		MarketID:       report.MarketID,
		Leg1Side:       string(report.Leg1Side),
		Leg1Price:      report.Leg1Price,
		Leg1OrderID:    report.Leg1OrderID,
		Leg2Side:       string(report.Leg2Side),
		Leg2Price:      report.Leg2Price,
		Leg2OrderID:    report.Leg2OrderID,
		Size:           report.Size,
		TotalCost:      report.TotalCost,
		ProfitPerShare: report.ProfitPerShare,
		ROI:            report.ROI,
		ExpectedProfit: report.ExpectedProfit,
		StartedAtMS:    report.StartedAt.UnixMilli(),
		CompletedAtMS:  report.CompletedAt.UnixMilli(),
	}
}
