package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeMock   = "mock"
	ModePaper  = "paper"
	ModeReplay = "replay"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	State      StateConfig      `yaml:"state"`
	Timescale  TimescaleConfig  `yaml:"timescale"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
	Tape       TapeConfig       `yaml:"tape"`
	Exec       ExecConfig       `yaml:"exec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type StrategyConfig struct {
	MarketID       string        `yaml:"market_id"`
	PositionSize   float64       `yaml:"position_size"`
	HedgeSumTarget float64       `yaml:"hedge_sum_target"`
	DumpMovePct    float64       `yaml:"dump_move_pct"`
	Leg1Window     *time.Duration `yaml:"leg1_window"`
	PollInterval   time.Duration  `yaml:"poll_interval"`
	RoundInterval  time.Duration  `yaml:"round_interval"`
	FeeRate        float64        `yaml:"fee_rate"`
}

// Leg1WindowValue is the configured leg 1 window. An explicit 0 is kept: only
// the tick at the round start may then detect a dump.
func (s StrategyConfig) Leg1WindowValue() time.Duration {
	if s.Leg1Window == nil {
		return 0
	}
	return *s.Leg1Window
}

type ExchangeConfig struct {
	Mode string `yaml:"mode"`
}

type PolymarketConfig struct {
	RESTURL        string        `yaml:"rest_url"`
	WSURL          string        `yaml:"ws_url"`
	UpTokenID      string        `yaml:"up_token_id"`
	DownTokenID    string        `yaml:"down_token_id"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxPriceAge    time.Duration `yaml:"max_price_age"`
}

type TapeConfig struct {
	RecordPath string `yaml:"record_path"`
	ReplayPath string `yaml:"replay_path"`
}

type ExecConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9101"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/dump-hedge-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 1024
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Strategy.PositionSize == 0 {
		cfg.Strategy.PositionSize = 20
	}
	if cfg.Strategy.HedgeSumTarget == 0 {
		cfg.Strategy.HedgeSumTarget = 0.95
	}
	if cfg.Strategy.DumpMovePct == 0 {
		cfg.Strategy.DumpMovePct = 0.15
	}
	if cfg.Strategy.Leg1Window == nil {
		window := 2 * time.Minute
		cfg.Strategy.Leg1Window = &window
	}
	if cfg.Strategy.PollInterval == 0 {
		cfg.Strategy.PollInterval = time.Second
	}
	if cfg.Exchange.Mode == "" {
		cfg.Exchange.Mode = ModePaper
	}
	if cfg.Polymarket.RESTURL == "" {
		cfg.Polymarket.RESTURL = "https://clob.polymarket.com"
	}
	if cfg.Polymarket.WSURL == "" {
		cfg.Polymarket.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if cfg.Polymarket.Timeout == 0 {
		cfg.Polymarket.Timeout = 10 * time.Second
	}
	if cfg.Polymarket.ReconnectDelay == 0 {
		cfg.Polymarket.ReconnectDelay = 3 * time.Second
	}
	if cfg.Polymarket.PingInterval == 0 {
		cfg.Polymarket.PingInterval = 10 * time.Second
	}
	if cfg.Polymarket.MaxPriceAge == 0 {
		cfg.Polymarket.MaxPriceAge = 5 * time.Second
	}
	if cfg.Exec.RetryAttempts == 0 {
		cfg.Exec.RetryAttempts = 3
	}
	if cfg.Exec.RetryBackoff == 0 {
		cfg.Exec.RetryBackoff = 200 * time.Millisecond
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Strategy.MarketID, "PM_MARKET_ID")
	overrideString(&cfg.Polymarket.UpTokenID, "PM_UP_TOKEN_ID")
	overrideString(&cfg.Polymarket.DownTokenID, "PM_DOWN_TOKEN_ID")
	overrideString(&cfg.Telegram.Token, "PM_TELEGRAM_TOKEN")
	overrideString(&cfg.Telegram.ChatID, "PM_TELEGRAM_CHAT_ID")
	overrideString(&cfg.Timescale.DSN, "PM_TIMESCALE_DSN")
	overrideString(&cfg.Exchange.Mode, "PM_EXCHANGE_MODE")
}

func overrideString(dst *string, key string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*dst = val
	}
}

func validate(cfg *Config) error {
	s := cfg.Strategy
	if s.MarketID == "" && cfg.Exchange.Mode != ModeMock {
		return errors.New("strategy.market_id is required")
	}
	if s.PositionSize <= 0 {
		return errors.New("strategy.position_size must be > 0")
	}
	if s.HedgeSumTarget <= 0 || s.HedgeSumTarget > 1 {
		return errors.New("strategy.hedge_sum_target must be in (0, 1]")
	}
	if s.DumpMovePct <= 0 || s.DumpMovePct > 1 {
		return errors.New("strategy.dump_move_pct must be in (0, 1]")
	}
	if s.Leg1WindowValue() < 0 {
		return errors.New("strategy.leg1_window must be >= 0")
	}
	if s.PollInterval <= 0 {
		return errors.New("strategy.poll_interval must be > 0")
	}
	if s.RoundInterval < 0 {
		return errors.New("strategy.round_interval must be >= 0")
	}
	if s.FeeRate < 0 {
		return errors.New("strategy.fee_rate must be >= 0")
	}
	switch cfg.Exchange.Mode {
	case ModeMock:
	case ModePaper:
		if cfg.Polymarket.UpTokenID == "" || cfg.Polymarket.DownTokenID == "" {
			return errors.New("polymarket.up_token_id and polymarket.down_token_id are required in paper mode")
		}
		if cfg.Polymarket.MaxPriceAge < 0 {
			return errors.New("polymarket.max_price_age must be >= 0")
		}
	case ModeReplay:
		if cfg.Tape.ReplayPath == "" {
			return errors.New("tape.replay_path is required in replay mode")
		}
	default:
		return fmt.Errorf("unknown exchange.mode %q", cfg.Exchange.Mode)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Exec.RetryAttempts < 1 {
		return errors.New("exec.retry_attempts must be >= 1")
	}
	if cfg.Exec.RetryBackoff < 0 {
		return errors.New("exec.retry_backoff must be >= 0")
	}
	return nil
}
