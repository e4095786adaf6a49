package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dump-hedge-bot/internal/alerts"
	"dump-hedge-bot/internal/state"
	"dump-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64            `json:"update_id"`
	Time         time.Time        `json:"time"`
	Action       string           `json:"action"`
	Command      string           `json:"command"`
	UserID       int64            `json:"user_id"`
	Username     string           `json:"username,omitempty"`
	ChatID       int64            `json:"chat_id"`
	PausedBefore bool             `json:"paused_before"`
	PausedAfter  bool             `json:"paused_after"`
	ConfigBefore *strategy.Config `json:"config_before,omitempty"`
	ConfigAfter  *strategy.Config `json:"config_after,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	resp, ok := a.operatorResponse(ctx, upd, chatID, allowedUsers)
	if !ok || resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

// operatorResponse filters an update and runs its command. ok is false when
// the update is not an operator command for this chat.
func (a *App) operatorResponse(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) (string, bool) {
	if upd.Message == nil {
		return "", false
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return "", false
	}
	if msg.Chat.ID != chatID {
		return "", false
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return "", false
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return "", false
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	return resp, true
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// group chats address bots as /cmd@botname
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(ctx), nil
	case "pause":
		before := a.isPaused()
		after := a.setPaused(true)
		a.auditOperatorEvent(ctx, a.auditEvent(meta, "pause", before, after))
		if before {
			return "trading already paused", nil
		}
		return "trading paused", nil
	case "resume":
		before := a.isPaused()
		after := a.setPaused(false)
		a.auditOperatorEvent(ctx, a.auditEvent(meta, "resume", before, after))
		if !before {
			return "trading already active", nil
		}
		return "trading resumed", nil
	case "reset":
		paused := a.isPaused()
		before := a.engine.Status()
		a.engine.ResetCycle()
		event := a.auditEvent(meta, "reset", paused, paused)
		event.ConfigBefore = &before.Config
		if before.Pending != nil {
			after := a.engine.Config()
			event.ConfigAfter = &after
		}
		a.auditOperatorEvent(ctx, event)
		return fmt.Sprintf("cycle reset (was %s)", before.State), nil
	case "config":
		return a.handleConfigCommand(ctx, args, meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) auditEvent(meta operatorMeta, action string, pausedBefore, pausedAfter bool) operatorAuditEvent {
	return operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: pausedBefore,
		PausedAfter:  pausedAfter,
	}
}

// handleConfigCommand stages strategy changes. They take effect on the next
// cycle reset.
func (a *App) handleConfigCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return a.configStatus(), nil
	}
	paused := a.isPaused()
	switch strings.ToLower(args[0]) {
	case "reset":
		base := StrategyConfig(a.cfg.Strategy)
		before := a.engine.Config()
		if err := a.engine.SetConfig(base); err != nil {
			return "", err
		}
		event := a.auditEvent(meta, "config_reset", paused, paused)
		event.ConfigBefore = &before
		event.ConfigAfter = &base
		a.auditOperatorEvent(ctx, event)
		return "configured values staged for next cycle", nil
	case "set":
		overrides, err := parseConfigOverrides(args[1:])
		if err != nil {
			return "", err
		}
		status := a.engine.Status()
		base := status.Config
		if status.Pending != nil {
			base = *status.Pending
		}
		next, err := applyConfigOverrides(base, overrides)
		if err != nil {
			return "", err
		}
		if err := a.engine.SetConfig(next); err != nil {
			return "", err
		}
		event := a.auditEvent(meta, "config_set", paused, paused)
		event.ConfigBefore = &status.Config
		event.ConfigAfter = &next
		a.auditOperatorEvent(ctx, event)
		return "config staged for next cycle", nil
	default:
		return "", errors.New("unknown config command: use /config show|set|reset")
	}
}

func parseConfigOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("config set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config setting: %s", arg)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return nil, fmt.Errorf("invalid config setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyConfigOverrides(base strategy.Config, overrides map[string]string) (strategy.Config, error) {
	next := base
	for key, val := range overrides {
		switch key {
		case "position_size":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return strategy.Config{}, fmt.Errorf("position_size: %w", err)
			}
			next.PositionSize = parsed
		case "hedge_sum_target":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return strategy.Config{}, fmt.Errorf("hedge_sum_target: %w", err)
			}
			next.HedgeSumTarget = parsed
		case "dump_move_pct":
			parsed, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return strategy.Config{}, fmt.Errorf("dump_move_pct: %w", err)
			}
			next.DumpMovePct = parsed
		case "leg1_window":
			dur, err := time.ParseDuration(val)
			if err != nil {
				return strategy.Config{}, fmt.Errorf("leg1_window: %w", err)
			}
			next.Leg1Window = dur
		default:
			return strategy.Config{}, fmt.Errorf("unknown config key: %s", key)
		}
	}
	if err := next.Validate(); err != nil {
		return strategy.Config{}, err
	}
	return next, nil
}

func (a *App) operatorStatus(ctx context.Context) string {
	if a.engine == nil {
		return "status unavailable"
	}
	status := a.engine.Status()
	lines := []string{
		fmt.Sprintf("market: %s", status.MarketID),
		fmt.Sprintf("state: %s", status.State),
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("round_start: %s", status.RoundStart.UTC().Format(time.RFC3339)),
	}
	if !status.LastTicker.Timestamp.IsZero() {
		lines = append(lines, fmt.Sprintf("prices: up=%.4f down=%.4f sum=%.4f",
			status.LastTicker.PriceUp,
			status.LastTicker.PriceDown,
			status.LastTicker.PriceUp+status.LastTicker.PriceDown,
		))
	}
	if status.State != strategy.StateWatching {
		lines = append(lines, fmt.Sprintf("leg1: %s @ %.4f", status.Leg1Side, status.Leg1Price))
	}
	if a.store != nil {
		last := "none"
		if record, ok, err := state.LoadLastCycle(ctx, a.store); err == nil && ok {
			last = fmt.Sprintf("%s %s+%s cost=%.4f roi=%.2f%%", record.ID, record.Leg1Side, record.Leg2Side, record.TotalCost, record.ROI*100)
		}
		lines = append(lines, fmt.Sprintf("last_cycle: %s", last))
		if counter, ok := a.store.(state.Counter); ok {
			if n, err := counter.Count(ctx, state.CycleKey("")); err == nil {
				lines = append(lines, fmt.Sprintf("cycles_journaled: %d", n))
			}
		}
	}
	if a.ws != nil {
		lastMessage := "n/a"
		if at := a.ws.LastMessageAt(); !at.IsZero() {
			lastMessage = at.UTC().Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("feed_last_message: %s", lastMessage))
	}
	lines = append(lines, fmt.Sprintf("config_pending: %t", status.Pending != nil))
	return strings.Join(lines, "\n")
}

func (a *App) configStatus() string {
	status := a.engine.Status()
	lines := []string{"config active: " + formatStrategyConfig(status.Config)}
	if status.Pending != nil {
		lines = append(lines, "config pending: "+formatStrategyConfig(*status.Pending))
	} else {
		lines = append(lines, "config pending: none")
	}
	return strings.Join(lines, "\n")
}

func formatStrategyConfig(cfg strategy.Config) string {
	return fmt.Sprintf("position_size=%.4f hedge_sum_target=%.4f dump_move_pct=%.4f leg1_window=%s",
		cfg.PositionSize,
		cfg.HedgeSumTarget,
		cfg.DumpMovePct,
		cfg.Leg1Window,
	)
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current cycle status",
		"/pause - stop evaluating ticks",
		"/resume - resume evaluating ticks",
		"/reset - abandon the current cycle and start a new round",
		"/config show - show active and pending strategy settings",
		"/config set key=value ... - stage settings for the next cycle (keys: position_size, hedge_sum_target, dump_move_pct, leg1_window)",
		"/config reset - stage the configured settings for the next cycle",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
