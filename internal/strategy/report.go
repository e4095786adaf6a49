package strategy

import (
	"time"

	"dump-hedge-bot/internal/exchange"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Each completed cycle holds one share of both outcomes, which pays out 1.
var payout = decimal.NewFromInt(1)

func newCycleReport(marketID string, leg1, leg2 exchange.Order, size float64, startedAt, completedAt time.Time) CycleReport {
	entry := decimal.NewFromFloat(leg1.Price)
	hedge := decimal.NewFromFloat(leg2.Price)
	shares := decimal.NewFromFloat(size)

	totalCost := entry.Add(hedge)
	profit := payout.Sub(totalCost)
	roi := decimal.Zero
	if totalCost.IsPositive() {
		roi = profit.Div(totalCost)
	}

	report := CycleReport{
		ID:          uuid.NewString(),
		MarketID:    marketID,
		Leg1Side:    leg1.Side,
		Leg1Price:   leg1.Price,
		Leg1OrderID: leg1.ID,
		Leg2Side:    leg2.Side,
		Leg2Price:   leg2.Price,
		Leg2OrderID: leg2.ID,
		Size:        size,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	report.TotalCost = totalCost.InexactFloat64()
	report.ProfitPerShare = profit.InexactFloat64()
	report.ROI = roi.InexactFloat64()
	report.Notional = totalCost.Mul(shares).InexactFloat64()
	report.ExpectedProfit = profit.Mul(shares).InexactFloat64()
	return report
}

// ROIPercent returns the cycle return as a percentage of total cost.
func (r CycleReport) ROIPercent() float64 {
	return decimal.NewFromFloat(r.ROI).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
}
