package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dump-hedge-bot/internal/alerts"
	"dump-hedge-bot/internal/config"
	"dump-hedge-bot/internal/exchange"
	"dump-hedge-bot/internal/exec"
	"dump-hedge-bot/internal/metrics"
	"dump-hedge-bot/internal/state"
	"dump-hedge-bot/internal/state/sqlite"
	"dump-hedge-bot/internal/strategy"
	"dump-hedge-bot/internal/tape"

	"go.uber.org/zap"
)

var testStart = time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)

func testStrategyConfig() config.StrategyConfig {
	window := 2 * time.Minute
	return config.StrategyConfig{
		MarketID:       "m",
		PositionSize:   10,
		HedgeSumTarget: 0.96,
		DumpMovePct:    0.10,
		Leg1Window:     &window,
		PollInterval:   time.Second,
		RoundInterval:  15 * time.Minute,
	}
}

func newTestApp(t *testing.T) (*App, *exchange.MockExchange, *memoryStore) {
	t.Helper()
	mock := exchange.NewMockExchangeAt(testStart)
	store := &memoryStore{data: make(map[string]string)}
	cfg := &config.Config{Strategy: testStrategyConfig()}
	a := &App{
		cfg:      cfg,
		log:      zap.NewNop(),
		store:    store,
		exchange: mock,
		metrics:  metrics.NewNoop(),
		alerts:   alerts.NewTelegram(cfg.Telegram, zap.NewNop()),
	}
	a.buildEngine()
	return a, mock, store
}

// runCycle drives a dump on UP followed by an immediate hedge.
func runCycle(a *App, mock *exchange.MockExchange) {
	ctx := context.Background()
	mock.SetPrice(0.50, 0.50)
	a.step(ctx)
	mock.AdvanceTime(3 * time.Second)
	mock.SimulateDump(exchange.SideUp, 0.40)
	a.step(ctx)
	mock.AdvanceTime(time.Second)
	a.step(ctx)
}

func TestStrategyConfigDefaultsMockMarket(t *testing.T) {
	cfg := StrategyConfig(config.StrategyConfig{PositionSize: 5})
	if cfg.MarketID != exchange.MockMarketID {
		t.Fatalf("expected %s, got %s", exchange.MockMarketID, cfg.MarketID)
	}
	if cfg.PositionSize != 5 {
		t.Fatalf("expected size 5, got %f", cfg.PositionSize)
	}
}

func TestStepCompletesCycleAndJournals(t *testing.T) {
	a, mock, store := newTestApp(t)
	runCycle(a, mock)

	if a.engine.State() != strategy.StateDone {
		t.Fatalf("expected %s, got %s", strategy.StateDone, a.engine.State())
	}
	record, ok, err := state.LoadLastCycle(context.Background(), store)
	if err != nil || !ok {
		t.Fatalf("expected journaled cycle, ok=%t err=%v", ok, err)
	}
	if record.Leg1Side != string(exchange.SideUp) || record.Leg2Side != string(exchange.SideDown) {
		t.Fatalf("unexpected sides: %+v", record)
	}
	if record.TotalCost < 0.8999 || record.TotalCost > 0.9001 {
		t.Fatalf("expected total cost 0.90, got %f", record.TotalCost)
	}
	if _, ok, _ := state.LoadCycle(context.Background(), store, record.ID); !ok {
		t.Fatalf("expected cycle %s under its own key", record.ID)
	}
}

func TestStepSkipsTicksWhilePaused(t *testing.T) {
	a, mock, _ := newTestApp(t)
	a.setPaused(true)
	runCycle(a, mock)
	if a.engine.State() != strategy.StateWatching {
		t.Fatalf("expected %s while paused, got %s", strategy.StateWatching, a.engine.State())
	}
	if len(mock.Orders()) != 0 {
		t.Fatalf("expected no orders while paused, got %d", len(mock.Orders()))
	}
	if !a.engine.Status().LastTicker.Timestamp.IsZero() {
		t.Fatalf("expected no ticker evaluated while paused")
	}
}

func TestStepRollsRound(t *testing.T) {
	a, mock, _ := newTestApp(t)
	runCycle(a, mock)
	if a.engine.State() != strategy.StateDone {
		t.Fatalf("expected %s, got %s", strategy.StateDone, a.engine.State())
	}

	mock.AdvanceTime(14 * time.Minute)
	a.step(context.Background())
	if a.engine.State() != strategy.StateDone {
		t.Fatalf("expected round to continue, got %s", a.engine.State())
	}

	mock.AdvanceTime(time.Minute)
	a.step(context.Background())
	if a.engine.State() != strategy.StateWatching {
		t.Fatalf("expected new round, got %s", a.engine.State())
	}
	if !a.engine.Status().RoundStart.Equal(mock.Now()) {
		t.Fatalf("expected round start %s, got %s", mock.Now(), a.engine.Status().RoundStart)
	}
}

func TestStepRollsRoundWhilePaused(t *testing.T) {
	a, mock, _ := newTestApp(t)
	a.setPaused(true)
	mock.AdvanceTime(15 * time.Minute)
	a.step(context.Background())
	if !a.engine.Status().RoundStart.Equal(mock.Now()) {
		t.Fatalf("expected round start to roll while paused")
	}
}

func TestObserverNoopsWithoutSinks(t *testing.T) {
	a, _, _ := newTestApp(t)
	obs := newObserver(a)
	obs.OnTick(exchange.Ticker{MarketID: "m", PriceUp: 0.5, PriceDown: 0.5}, testStart, strategy.StateWatching)
	obs.OnReset()
	obs.OnError(&exchange.OrderError{MarketID: "m", Side: exchange.SideUp, Err: exchange.ErrInvalidSize})
	obs.OnDump(strategy.DumpSignal{MarketID: "m"})
}

func TestObserverRecordsTape(t *testing.T) {
	a, _, _ := newTestApp(t)
	path := filepath.Join(t.TempDir(), "ticks.tape")
	recorder, err := tape.NewRecorder(path)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	a.recorder = recorder
	obs := newObserver(a)
	obs.OnTick(exchange.Ticker{MarketID: "m", PriceUp: 0.45, PriceDown: 0.52}, testStart, strategy.StateWatching)
	obs.OnReset()
	if err := recorder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	records, err := tape.ReadAll(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].PriceUp != 0.45 || records[0].PriceDown != 0.52 || !records[0].Time().Equal(testStart) {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestNewMockMode(t *testing.T) {
	disabled := false
	cfg := &config.Config{
		Metrics:  config.MetricsConfig{Enabled: &disabled},
		State:    config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "state.db")},
		Strategy: testStrategyConfig(),
		Exchange: config.ExchangeConfig{Mode: config.ModeMock},
		Exec:     config.ExecConfig{RetryAttempts: 1},
	}
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.close()
	if _, ok := a.exchange.(*exec.Executor); !ok {
		t.Fatalf("expected executor-wrapped exchange, got %T", a.exchange)
	}
	if a.engine.State() != strategy.StateWatching {
		t.Fatalf("expected %s, got %s", strategy.StateWatching, a.engine.State())
	}
}

func TestRunReplayCompletesCycleAndLeavesTape(t *testing.T) {
	dir := t.TempDir()
	tapePath := filepath.Join(dir, "session.tape")
	recorder, err := tape.NewRecorder(tapePath)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	for _, rec := range []tape.TickRecord{
		{MarketID: "m", PriceUp: 0.50, PriceDown: 0.50, UnixMS: testStart.UnixMilli()},
		{MarketID: "m", PriceUp: 0.40, PriceDown: 0.50, UnixMS: testStart.Add(3 * time.Second).UnixMilli()},
		{MarketID: "m", PriceUp: 0.40, PriceDown: 0.52, UnixMS: testStart.Add(4 * time.Second).UnixMilli()},
	} {
		if err := recorder.Record(rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := recorder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	disabled := false
	dbPath := filepath.Join(dir, "state.db")
	strat := testStrategyConfig()
	strat.RoundInterval = 0
	cfg := &config.Config{
		Metrics:  config.MetricsConfig{Enabled: &disabled},
		State:    config.StateConfig{SQLitePath: dbPath},
		Strategy: strat,
		Exchange: config.ExchangeConfig{Mode: config.ModeReplay},
		Tape:     config.TapeConfig{ReplayPath: tapePath, RecordPath: tapePath},
		Exec:     config.ExecConfig{RetryAttempts: 1},
	}
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.recorder != nil {
		t.Fatalf("expected no tape recorder in replay mode")
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	replayed, err := tape.ReadAll(tapePath)
	if err != nil {
		t.Fatalf("read tape: %v", err)
	}
	if len(replayed) != 3 {
		t.Fatalf("expected replay to leave the tape at 3 records, got %d", len(replayed))
	}
	orders := a.replay.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	record, ok, err := state.LoadLastCycle(context.Background(), store)
	if err != nil || !ok {
		t.Fatalf("expected journaled cycle, ok=%t err=%v", ok, err)
	}
	if record.Leg1Price != 0.40 || record.Leg2Price != 0.52 {
		t.Fatalf("unexpected prices: %+v", record)
	}
	order, ok, err := exec.LoadOrder(context.Background(), store, orders[0].ID)
	if err != nil || !ok {
		t.Fatalf("expected recorded order, ok=%t err=%v", ok, err)
	}
	if order.Side != exchange.SideUp {
		t.Fatalf("expected UP order, got %s", order.Side)
	}
}

func TestAuditEventJSON(t *testing.T) {
	cfg := strategy.Config{MarketID: "m", PositionSize: 1}
	payload, err := json.Marshal(operatorAuditEvent{Action: "config_set", ConfigAfter: &cfg})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"config_after":{"market_id":"m"`) {
		t.Fatalf("unexpected payload: %s", payload)
	}
	if strings.Contains(string(payload), "config_before") {
		t.Fatalf("expected config_before omitted: %s", payload)
	}
}
