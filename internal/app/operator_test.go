package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"dump-hedge-bot/internal/alerts"
	"dump-hedge-bot/internal/polymarket/ws"
	"dump-hedge-bot/internal/strategy"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Count(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) auditEvents(t *testing.T) []operatorAuditEvent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []operatorAuditEvent
	for key, val := range m.data {
		if !strings.HasPrefix(key, "ops:audit:") {
			continue
		}
		var event operatorAuditEvent
		if err := json.Unmarshal([]byte(val), &event); err != nil {
			t.Fatalf("decode audit: %v", err)
		}
		out = append(out, event)
	}
	return out
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/status now")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "status" {
		t.Fatalf("expected status, got %s", cmd)
	}
	if len(args) != 1 || args[0] != "now" {
		t.Fatalf("unexpected args: %v", args)
	}
	cmd, _, ok = parseOperatorCommand("/Reset@dump_bot")
	if !ok || cmd != "reset" {
		t.Fatalf("expected reset, got %q ok=%t", cmd, ok)
	}
	if _, _, ok := parseOperatorCommand("status"); ok {
		t.Fatalf("expected plain text to be ignored")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	app := &App{store: store}
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := app.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if resp != "trading paused" {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if !app.isPaused() {
		t.Fatalf("expected paused")
	}
	resp, _ = app.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if resp != "trading already paused" {
		t.Fatalf("unexpected second pause response: %s", resp)
	}

	meta.Raw = "/resume"
	resp, err = app.handleOperatorCommand(context.Background(), "resume", nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if resp != "trading resumed" {
		t.Fatalf("unexpected resume response: %s", resp)
	}
	if app.isPaused() {
		t.Fatalf("expected resumed")
	}

	events := store.auditEvents(t)
	if len(events) != 3 {
		t.Fatalf("expected 3 audit events, got %d", len(events))
	}
}

func TestOperatorConfigSetStagesUntilReset(t *testing.T) {
	app, _, store := newTestApp(t)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/config set position_size=25 leg1_window=90s"}

	resp, err := app.handleOperatorCommand(context.Background(), "config", []string{"set", "position_size=25", "leg1_window=90s"}, meta)
	if err != nil {
		t.Fatalf("config set error: %v", err)
	}
	if resp != "config staged for next cycle" {
		t.Fatalf("unexpected response: %s", resp)
	}
	if app.engine.Config().PositionSize != 10 {
		t.Fatalf("expected active size unchanged, got %f", app.engine.Config().PositionSize)
	}
	show, _ := app.handleOperatorCommand(context.Background(), "config", nil, meta)
	if !strings.Contains(show, "config pending: position_size=25.0000") {
		t.Fatalf("expected pending config in show, got %s", show)
	}

	// a second set builds on the pending values
	if _, err := app.handleOperatorCommand(context.Background(), "config", []string{"set", "dump_move_pct=0.2"}, meta); err != nil {
		t.Fatalf("config set error: %v", err)
	}

	if _, err := app.handleOperatorCommand(context.Background(), "reset", nil, operatorMeta{Raw: "/reset"}); err != nil {
		t.Fatalf("reset error: %v", err)
	}
	cfg := app.engine.Config()
	if cfg.PositionSize != 25 || cfg.Leg1Window != 90*time.Second || cfg.DumpMovePct != 0.2 {
		t.Fatalf("unexpected config after reset: %+v", cfg)
	}
	if app.engine.Status().Pending != nil {
		t.Fatalf("expected no pending config after reset")
	}

	var sawReset bool
	for _, event := range store.auditEvents(t) {
		if event.Action == "reset" {
			sawReset = true
			if event.ConfigAfter == nil || event.ConfigAfter.PositionSize != 25 {
				t.Fatalf("expected applied config in reset audit, got %+v", event.ConfigAfter)
			}
		}
	}
	if !sawReset {
		t.Fatalf("expected reset audit event")
	}
}

func TestOperatorConfigResetRestoresConfigured(t *testing.T) {
	app, _, _ := newTestApp(t)
	meta := operatorMeta{Raw: "/config"}
	if _, err := app.handleOperatorCommand(context.Background(), "config", []string{"set", "hedge_sum_target=0.9"}, meta); err != nil {
		t.Fatalf("config set error: %v", err)
	}
	app.engine.ResetCycle()
	if app.engine.Config().HedgeSumTarget != 0.9 {
		t.Fatalf("expected target 0.9, got %f", app.engine.Config().HedgeSumTarget)
	}
	if _, err := app.handleOperatorCommand(context.Background(), "config", []string{"reset"}, meta); err != nil {
		t.Fatalf("config reset error: %v", err)
	}
	app.engine.ResetCycle()
	if app.engine.Config().HedgeSumTarget != 0.96 {
		t.Fatalf("expected configured target 0.96, got %f", app.engine.Config().HedgeSumTarget)
	}
}

func TestApplyConfigOverridesRejectsInvalid(t *testing.T) {
	base := strategy.Config{MarketID: "m", PositionSize: 10, HedgeSumTarget: 0.95, DumpMovePct: 0.15, Leg1Window: time.Minute}
	if _, err := applyConfigOverrides(base, map[string]string{"max_notional_usd": "5"}); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if _, err := applyConfigOverrides(base, map[string]string{"position_size": "-1"}); err == nil {
		t.Fatalf("expected error for negative size")
	}
	if _, err := applyConfigOverrides(base, map[string]string{"leg1_window": "soon"}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
	if _, err := parseConfigOverrides([]string{"position_size"}); err == nil {
		t.Fatalf("expected error for missing value")
	}
}

func TestOperatorStatusIncludesJournal(t *testing.T) {
	app, mock, _ := newTestApp(t)
	runCycle(app, mock)
	status := app.operatorStatus(context.Background())
	for _, want := range []string{"market: m", "state: DONE", "paused: false", "cycles_journaled: 1", "leg1: UP @ 0.4000"} {
		if !strings.Contains(status, want) {
			t.Fatalf("expected %q in status:\n%s", want, status)
		}
	}
}

func TestOperatorResponseFiltersUpdates(t *testing.T) {
	app, _, _ := newTestApp(t)
	allowed := map[int64]struct{}{7: {}}
	upd := alerts.Update{
		UpdateID: 10,
		Message: &alerts.Message{
			From: &alerts.User{ID: 7},
			Chat: &alerts.Chat{ID: 42},
			Text: "/pause",
		},
	}
	if _, ok := app.operatorResponse(context.Background(), upd, 43, allowed); ok {
		t.Fatalf("expected other chat ignored")
	}
	upd.Message.From.ID = 8
	if _, ok := app.operatorResponse(context.Background(), upd, 42, allowed); ok {
		t.Fatalf("expected unknown user ignored")
	}
	upd.Message.From.ID = 7
	resp, ok := app.operatorResponse(context.Background(), upd, 42, allowed)
	if !ok || resp != "trading paused" {
		t.Fatalf("unexpected response %q ok=%t", resp, ok)
	}
	upd.Message.Text = "/config set position_size=abc"
	resp, ok = app.operatorResponse(context.Background(), upd, 42, allowed)
	if !ok || !strings.HasPrefix(resp, "command failed:") {
		t.Fatalf("expected command failure, got %q", resp)
	}
}

func TestOperatorOffsetRoundTrip(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	app := &App{store: store}
	if got := app.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	app.saveOperatorOffset(context.Background(), 101)
	if got := app.loadOperatorOffset(context.Background()); got != 101 {
		t.Fatalf("expected 101, got %d", got)
	}
	store.data[operatorOffsetKey] = "-4"
	if got := app.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected negative offset ignored, got %d", got)
	}
}

func TestOperatorStatusReportsFeedActivity(t *testing.T) {
	app, _, _ := newTestApp(t)
	if strings.Contains(app.operatorStatus(context.Background()), "feed_last_message") {
		t.Fatalf("expected no feed line without a market stream")
	}
	app.ws = ws.New("ws://127.0.0.1:0", time.Second, 0, nil)
	status := app.operatorStatus(context.Background())
	if !strings.Contains(status, "feed_last_message: n/a") {
		t.Fatalf("expected idle feed in status:\n%s", status)
	}
}
