package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dump-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type PriceTick struct {
	Time      time.Time
	MarketID  string
	PriceUp   float64
	PriceDown float64
	State     string
}

type Cycle struct {
	Time           time.Time
	CycleID        string
	MarketID       string
	Leg1Side       string
	Leg1Price      float64
	Leg2Price      float64
	Size           float64
	TotalCost      float64
	ProfitPerShare float64
	ROI            float64
}

// Writer drains two bounded queues on one goroutine. Rows are dropped when a
// queue is full.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	ticks      chan PriceTick
	cycles     chan Cycle
	started    atomic.Bool
	dropTicks  atomic.Uint64
	dropCycles atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, log, schema, cfg.QueueSize)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, log *zap.Logger, schema string, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan PriceTick, queueSize),
		cycles: make(chan Cycle, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(tick PriceTick) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- tick:
	default:
		if w.dropTicks.Add(1) == 1 {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueCycle(cycle Cycle) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- cycle:
	default:
		if w.dropCycles.Add(1) == 1 {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

// Dropped reports how many ticks and cycles were discarded on full queues.
func (w *Writer) Dropped() (ticks, cycles uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropTicks.Load(), w.dropCycles.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-w.ticks:
			w.writeTick(ctx, tick)
		case cycle := <-w.cycles:
			w.writeCycle(ctx, cycle)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market_id TEXT NOT NULL,
		price_up DOUBLE PRECISION NOT NULL,
		price_down DOUBLE PRECISION NOT NULL,
		state TEXT NOT NULL
	)`, w.table("price_ticks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		market_id TEXT NOT NULL,
		leg1_side TEXT NOT NULL,
		leg1_price DOUBLE PRECISION NOT NULL,
		leg2_price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		total_cost DOUBLE PRECISION NOT NULL,
		profit_per_share DOUBLE PRECISION NOT NULL,
		roi DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, cycle_id)
	)`, w.table("cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"price_ticks", "cycles"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, tick PriceTick) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, market_id, price_up, price_down, state) VALUES ($1,$2,$3,$4,$5)`, w.table("price_ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		tick.Time,
		tick.MarketID,
		tick.PriceUp,
		tick.PriceDown,
		tick.State,
	); err != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCycle(ctx context.Context, cycle Cycle) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, market_id, leg1_side, leg1_price, leg2_price, size, total_cost, profit_per_share, roi
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)
	ON CONFLICT (ts, cycle_id) DO NOTHING`, w.table("cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		cycle.Time,
		cycle.CycleID,
		cycle.MarketID,
		cycle.Leg1Side,
		cycle.Leg1Price,
		cycle.Leg2Price,
		cycle.Size,
		cycle.TotalCost,
		cycle.ProfitPerShare,
		cycle.ROI,
	); err != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
