package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dump-hedge-bot/internal/config"
	"dump-hedge-bot/internal/logging"
	"dump-hedge-bot/internal/polymarket"
	"dump-hedge-bot/internal/polymarket/rest"

	"github.com/shopspring/decimal"
)

const (
	defaultRESTTimeout    = 10 * time.Second
	defaultRESTBaseURL    = "https://clob.polymarket.com"
	defaultHedgeSumTarget = 0.95
	defaultVerifyEnvFile  = ".env"
)

// verify reads both order books of a binary market and prints the current
// ask sum against the hedge target.
func main() {
	configPath := flag.String("config", "", "optional config path for token ids and REST settings")
	prices := flag.Bool("prices", false, "also print the /price quotes for both tokens")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info", Format: "console"}
	baseURL := defaultRESTBaseURL
	timeout := defaultRESTTimeout
	target := defaultHedgeSumTarget
	upToken := strings.TrimSpace(os.Getenv("PM_UP_TOKEN_ID"))
	downToken := strings.TrimSpace(os.Getenv("PM_DOWN_TOKEN_ID"))
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		if cfg.Polymarket.RESTURL != "" {
			baseURL = cfg.Polymarket.RESTURL
		}
		if cfg.Polymarket.Timeout > 0 {
			timeout = cfg.Polymarket.Timeout
		}
		target = cfg.Strategy.HedgeSumTarget
		upToken = cfg.Polymarket.UpTokenID
		downToken = cfg.Polymarket.DownTokenID
	}
	if envVal, ok, err := floatEnv("PM_VERIFY_HEDGE_SUM_TARGET"); err != nil {
		fatal(err)
	} else if ok {
		target = envVal
	}
	if upToken == "" || downToken == "" {
		fatal(errors.New("PM_UP_TOKEN_ID and PM_DOWN_TOKEN_ID are required"))
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	client := rest.New(baseURL, timeout, log)
	ctx := context.Background()

	upAsk := bestAsk(ctx, client, "UP", upToken)
	downAsk := bestAsk(ctx, client, "DOWN", downToken)
	sum := upAsk.Add(downAsk)
	targetDec := decimal.NewFromFloat(target)
	fmt.Printf("ask sum: %s target: %s hedgeable: %t\n", sum.StringFixed(4), targetDec.StringFixed(4), sum.LessThanOrEqual(targetDec))
	if sum.IsPositive() {
		profit := decimal.NewFromInt(1).Sub(sum)
		fmt.Printf("locked profit per share at current asks: %s (roi %s%%)\n",
			profit.StringFixed(4),
			profit.Div(sum).Mul(decimal.NewFromInt(100)).StringFixed(2),
		)
	}

	if *prices {
		for _, tok := range []struct{ label, id string }{{"UP", upToken}, {"DOWN", downToken}} {
			buy, err := client.Price(ctx, tok.id, "BUY")
			if err != nil {
				fatal(fmt.Errorf("%s price: %w", tok.label, err))
			}
			sell, err := client.Price(ctx, tok.id, "SELL")
			if err != nil {
				fatal(fmt.Errorf("%s price: %w", tok.label, err))
			}
			fmt.Printf("%s price: buy=%s sell=%s\n", tok.label, buy.String(), sell.String())
		}
	}
}

func bestAsk(ctx context.Context, client *rest.Client, label, tokenID string) decimal.Decimal {
	book, err := client.Book(ctx, tokenID)
	if err != nil {
		fatal(fmt.Errorf("%s book: %w", label, err))
	}
	ask, ok := book.BestAsk()
	if !ok {
		fatal(fmt.Errorf("%s book has no asks", label))
	}
	bid, hasBid := book.BestBid()
	spread := "n/a"
	if hasBid {
		spread = ask.Sub(bid).StringFixed(4)
	}
	fmt.Printf("%s token=%s best_ask=%s spread=%s levels=%d updated=%s\n",
		label,
		tokenID,
		ask.StringFixed(4),
		spread,
		len(book.Asks),
		bookTime(book),
	)
	return ask
}

func bookTime(book polymarket.Book) string {
	if book.Timestamp.Time().IsZero() {
		return "n/a"
	}
	return book.Timestamp.Time().UTC().Format(time.RFC3339)
}

func floatEnv(key string) (float64, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
	os.Exit(1)
}
