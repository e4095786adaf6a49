package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"dump-hedge-bot/internal/alerts"
	"dump-hedge-bot/internal/config"
	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/exec"
	"dump-hedge-bot/internal/metrics"
	"dump-hedge-bot/internal/polymarket"
	"dump-hedge-bot/internal/polymarket/rest"
	"dump-hedge-bot/internal/polymarket/ws"
	"dump-hedge-bot/internal/state"
	"dump-hedge-bot/internal/state/sqlite"
	"dump-hedge-bot/internal/strategy"
	"dump-hedge-bot/internal/tape"
	"dump-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      state.Store
	exchange   exchange.Exchange
	replay     *tape.ReplayExchange
	feed       *polymarket.Feed
	ws         *ws.Client
	engine     *strategy.Engine
	metrics    *metrics.Metrics
	prometheus *metrics.Prometheus
	alerts     *alerts.Telegram
	timescale  *timescale.Writer
	recorder   *tape.Recorder

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

// StrategyConfig maps the strategy section onto the engine's config.
func StrategyConfig(cfg config.StrategyConfig) strategy.Config {
	marketID := cfg.MarketID
	if marketID == "" {
		marketID = exchange.MockMarketID
	}
	return strategy.Config{
		MarketID:       marketID,
		PositionSize:   cfg.PositionSize,
		HedgeSumTarget: cfg.HedgeSumTarget,
		DumpMovePct:    cfg.DumpMovePct,
		Leg1Window:     cfg.Leg1WindowValue(),
	}
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:     cfg,
		log:     log,
		store:   store,
		metrics: metrics.NewNoop(),
		alerts:  alerts.NewTelegram(cfg.Telegram, log),
	}
	if cfg.Metrics.EnabledValue() {
		a.prometheus = metrics.NewPrometheus()
		a.metrics = a.prometheus.Metrics
	}
	fail := func(err error) (*App, error) {
		a.close()
		return nil, err
	}
	a.timescale, err = timescale.New(cfg.Timescale, log)
	if err != nil {
		return fail(fmt.Errorf("timescale: %w", err))
	}
	// a replay never appends to a tape, including the one it reads
	if cfg.Tape.RecordPath != "" && cfg.Exchange.Mode != config.ModeReplay {
		a.recorder, err = tape.NewRecorder(cfg.Tape.RecordPath)
		if err != nil {
			return fail(fmt.Errorf("tape recorder: %w", err))
		}
	}

	var inner exchange.Exchange
	switch cfg.Exchange.Mode {
	case config.ModePaper:
		restClient := rest.New(cfg.Polymarket.RESTURL, cfg.Polymarket.Timeout, log)
		a.ws = ws.New(cfg.Polymarket.WSURL, cfg.Polymarket.ReconnectDelay, cfg.Polymarket.PingInterval, log)
		a.feed = polymarket.NewFeed(cfg.Polymarket.UpTokenID, cfg.Polymarket.DownTokenID, restClient, cfg.Polymarket.MaxPriceAge, log)
		inner = exchange.NewPaperExchange(a.feed, cfg.Strategy.FeeRate, log)
	case config.ModeReplay:
		records, err := tape.ReadAll(cfg.Tape.ReplayPath)
		if err != nil {
			return fail(fmt.Errorf("read tape: %w", err))
		}
		a.replay, err = tape.NewReplayExchange(records)
		if err != nil {
			return fail(err)
		}
		inner = a.replay
	case config.ModeMock:
		inner = exchange.NewMockExchange()
	default:
		return fail(fmt.Errorf("unknown exchange mode %q", cfg.Exchange.Mode))
	}
	a.exchange = exec.New(inner, store, log, exec.Options{
		Attempts: cfg.Exec.RetryAttempts,
		Backoff:  cfg.Exec.RetryBackoff,
	})
	a.buildEngine()
	return a, nil
}

func (a *App) buildEngine() {
	a.engine = strategy.New(StrategyConfig(a.cfg.Strategy), a.exchange, a.log)
	a.engine.SetMetrics(a.metrics)
	a.engine.SetObserver(newObserver(a))
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.timescale.Start(ctx)
	a.startMetricsServer(ctx)
	a.startOperator(ctx)

	if a.replay != nil {
		return a.runReplay(ctx)
	}
	if a.feed != nil {
		if err := a.feed.Seed(ctx); err != nil {
			a.log.Warn("order book seed failed", zap.Error(err))
		}
		go func() {
			if err := a.feed.Stream(ctx, a.ws); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("market stream stopped", zap.Error(err))
			}
		}()
	}
	a.log.Info("strategy loop started",
		zap.String("mode", a.cfg.Exchange.Mode),
		zap.String("market_id", a.engine.Config().MarketID),
		zap.Duration("poll_interval", a.cfg.Strategy.PollInterval),
		zap.Duration("round_interval", a.cfg.Strategy.RoundInterval),
	)

	ticker := time.NewTicker(a.cfg.Strategy.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.step(ctx)
		}
	}
}

// runReplay drives the engine through every record of the tape as fast as
// possible.
func (a *App) runReplay(ctx context.Context) error {
	a.log.Info("replay started", zap.String("tape", a.cfg.Tape.ReplayPath), zap.Int("records", a.replay.Remaining()+1))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.step(ctx)
		if !a.replay.Advance() {
			break
		}
	}
	status := a.engine.Status()
	a.log.Info("replay finished",
		zap.String("state", string(status.State)),
		zap.Int("orders", len(a.replay.Orders())),
	)
	return nil
}

// step runs one driver iteration: roll the round when due, then tick unless
// paused.
func (a *App) step(ctx context.Context) {
	if interval := a.cfg.Strategy.RoundInterval; interval > 0 {
		if a.exchange.Now().Sub(a.engine.Status().RoundStart) >= interval {
			a.engine.ResetCycle()
		}
	}
	if a.isPaused() {
		return
	}
	a.engine.Tick(ctx)
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prometheus == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prometheus.Handler())
	server := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address), zap.String("path", a.cfg.Metrics.Path))
}

func (a *App) close() {
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Warn("tape close failed", zap.Error(err))
		}
	}
	if a.timescale != nil {
		_ = a.timescale.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
