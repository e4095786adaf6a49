package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

const (
	LastCycleKey   = "strategy:last_cycle"
	cycleKeyPrefix = "cycle:"
)

// CycleRecord is the journal entry written for each completed cycle. It is
// kept for operators and reporting and is never loaded back into a running
// engine.
type CycleRecord struct {
	ID             string  `json:"id"`
	MarketID       string  `json:"market_id"`
	Leg1Side       string  `json:"leg1_side"`
	Leg1Price      float64 `json:"leg1_price"`
	Leg1OrderID    string  `json:"leg1_order_id"`
	Leg2Side       string  `json:"leg2_side"`
	Leg2Price      float64 `json:"leg2_price"`
	Leg2OrderID    string  `json:"leg2_order_id"`
	Size           float64 `json:"size"`
	TotalCost      float64 `json:"total_cost"`
	ProfitPerShare float64 `json:"profit_per_share"`
	ROI            float64 `json:"roi"`
	ExpectedProfit float64 `json:"expected_profit"`
	StartedAtMS    int64   `json:"started_at_ms"`
	CompletedAtMS  int64   `json:"completed_at_ms"`
}

func CycleKey(id string) string {
	return cycleKeyPrefix + id
}

func SaveCycle(ctx context.Context, store Store, record CycleRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if record.ID == "" {
		return errors.New("cycle record id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, CycleKey(record.ID), string(payload)); err != nil {
		return err
	}
	return store.Set(ctx, LastCycleKey, string(payload))
}

func LoadCycle(ctx context.Context, store Store, id string) (CycleRecord, bool, error) {
	return loadCycleKey(ctx, store, CycleKey(id))
}

func LoadLastCycle(ctx context.Context, store Store) (CycleRecord, bool, error) {
	return loadCycleKey(ctx, store, LastCycleKey)
}

func loadCycleKey(ctx context.Context, store Store, key string) (CycleRecord, bool, error) {
	if store == nil {
		return CycleRecord{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return CycleRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleRecord{}, false, nil
	}
	var record CycleRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return CycleRecord{}, false, err
	}
	return record, true, nil
}
