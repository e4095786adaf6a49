package main

import (
	"context"
	"flag"
	"time"

	"dump-hedge-bot/internal/config"
	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/logging"
	"dump-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

func main() {
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logging.New(config.LoggingConfig{Level: *level, Format: "console"})
	defer func() { _ = log.Sync() }()

	cfg := strategy.Config{
		MarketID:       exchange.MockMarketID,
		PositionSize:   20,
		HedgeSumTarget: 0.95,
		DumpMovePct:    0.15,
		Leg1Window:     5 * time.Minute,
	}
	mock := exchange.NewMockExchange()
	engine := strategy.New(cfg, mock, log)
	ctx := context.Background()

	tick := func() {
		mock.AdvanceTime(time.Second)
		engine.Tick(ctx)
	}

	log.Info("scenario 1: dump with immediate hedge", zap.Float64("up", 0.50), zap.Float64("down", 0.50))
	mock.SetPrice(0.50, 0.50)
	for i := 0; i < 10; i++ {
		tick()
	}
	log.Info("dump: UP 0.50 -> 0.30")
	mock.SetPrice(0.30, 0.55)
	tick()
	tick()
	logStatus(log, engine)

	log.Info("scenario 2: DOWN rallies so the hedge has to wait")
	engine.ResetCycle()
	mock.SetPrice(0.50, 0.50)
	for i := 0; i < 5; i++ {
		tick()
	}
	log.Info("dump: UP 0.50 -> 0.30, DOWN 0.50 -> 0.75")
	mock.SetPrice(0.30, 0.75)
	tick()

	for step := 1; step <= 11; step++ {
		current := mock.CurrentTicker()
		if current.PriceDown > 0.60 {
			mock.SetPrice(0.30, current.PriceDown-0.02)
		}
		current = mock.CurrentTicker()
		log.Info("waiting for hedge",
			zap.Int("step", step),
			zap.Float64("up", current.PriceUp),
			zap.Float64("down", current.PriceDown),
			zap.String("state", string(engine.State())),
		)
		tick()
	}
	logStatus(log, engine)
}

func logStatus(log *zap.Logger, engine *strategy.Engine) {
	status := engine.Status()
	fields := []zap.Field{zap.String("state", string(status.State))}
	if status.LastCycle != nil {
		fields = append(fields,
			zap.String("cycle_id", status.LastCycle.ID),
			zap.Float64("total_cost", status.LastCycle.TotalCost),
			zap.Float64("roi_pct", status.LastCycle.ROIPercent()),
			zap.Float64("expected_profit", status.LastCycle.ExpectedProfit),
		)
	}
	log.Info("scenario finished", fields...)
}
