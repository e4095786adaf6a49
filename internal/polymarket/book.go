package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one price level of a CLOB order book. Prices are probabilities in
// (0, 1); sizes are share counts.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Book is an order book snapshot for one outcome token.
type Book struct {
	Market    string  `json:"market"`
	AssetID   string  `json:"asset_id"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	Timestamp Millis  `json:"timestamp"`
}

// BestAsk returns the lowest ask with positive size.
func (b Book) BestAsk() (decimal.Decimal, bool) {
	return bestOf(b.Asks, func(candidate, best decimal.Decimal) bool { return candidate.LessThan(best) })
}

// BestBid returns the highest bid with positive size.
func (b Book) BestBid() (decimal.Decimal, bool) {
	return bestOf(b.Bids, func(candidate, best decimal.Decimal) bool { return candidate.GreaterThan(best) })
}

func bestOf(levels []Level, better func(candidate, best decimal.Decimal) bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, lvl := range levels {
		if !lvl.Size.IsPositive() || !lvl.Price.IsPositive() {
			continue
		}
		if !found || better(lvl.Price, best) {
			best = lvl.Price
			found = true
		}
	}
	return best, found
}

// Millis decodes the venue's millisecond timestamps, which arrive either as
// strings or numbers.
type Millis time.Time

func (m *Millis) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*m = Millis(time.Time{})
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*m = Millis(time.UnixMilli(ms).UTC())
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	t := time.Time(m)
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(strconv.FormatInt(t.UnixMilli(), 10))
}

func (m Millis) Time() time.Time {
	return time.Time(m)
}
