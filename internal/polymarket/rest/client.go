package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dump-hedge-bot/internal/polymarket"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client reads public CLOB market data.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Book fetches the order book snapshot for an outcome token.
func (c *Client) Book(ctx context.Context, tokenID string) (polymarket.Book, error) {
	var book polymarket.Book
	if err := c.get(ctx, "/book", url.Values{"token_id": {tokenID}}, &book); err != nil {
		return polymarket.Book{}, err
	}
	if book.AssetID == "" {
		book.AssetID = tokenID
	}
	return book, nil
}

// Price returns the venue's quoted price for a token. side is "buy" or "sell"
// from the quoting side's perspective; the buy price for a taker is side=sell.
func (c *Client) Price(ctx context.Context, tokenID, side string) (decimal.Decimal, error) {
	var resp struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := c.get(ctx, "/price", url.Values{"token_id": {tokenID}, "side": {side}}, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Price, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Debug("rest request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
