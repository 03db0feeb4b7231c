// Package valuation computes current value and gain/loss for a portfolio.
//
// All monetary values use shopspring/decimal. Percentages are rounded to two
// decimal places; amounts are exact.
package valuation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fabioitj/gatherin/internal/metrics"
	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/pricing"
)

var hundred = decimal.NewFromInt(100)

// PriceResolver resolves a set of tickers in a single batch.
type PriceResolver interface {
	Resolve(ctx context.Context, tickers []string) *pricing.Resolution
}

// Engine values portfolios against resolved prices.
type Engine struct {
	prices PriceResolver
}

// NewEngine creates a valuation engine.
func NewEngine(prices PriceResolver) *Engine {
	return &Engine{prices: prices}
}

// Valuate enriches every position of p with its current price and
// aggregates the totals. Prices for all tickers are resolved once, before
// any arithmetic. A position without a price contributes zero current value
// but still counts toward the invested total.
func (e *Engine) Valuate(ctx context.Context, p *model.Portfolio) *model.EnrichedPortfolio {
	start := time.Now()
	defer func() { metrics.ValuationLatency.Observe(time.Since(start).Seconds()) }()

	out := &model.EnrichedPortfolio{
		ID:                      p.ID,
		UserID:                  p.UserID,
		Positions:               []model.EnrichedPosition{},
		TotalValue:              decimal.Zero,
		TotalInvested:           decimal.Zero,
		TotalGainLoss:           decimal.Zero,
		TotalGainLossPercentage: decimal.Zero,
		PricesComplete:          true,
	}
	if len(p.Positions) == 0 {
		return out
	}

	res := e.prices.Resolve(ctx, p.Tickers())

	positions := append([]model.Position(nil), p.Positions...)
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })

	for _, pos := range positions {
		price, ok := res.Price(pos.Ticker)
		ep := Position(pos, price, ok)
		if !ok {
			out.PricesComplete = false
		}
		out.Positions = append(out.Positions, ep)
		out.TotalValue = out.TotalValue.Add(ep.CurrentValue)
		out.TotalInvested = out.TotalInvested.Add(ep.TotalInvested)
	}

	out.TotalGainLoss = out.TotalValue.Sub(out.TotalInvested)
	out.TotalGainLossPercentage = Percentage(out.TotalGainLoss, out.TotalInvested)
	return out
}

// Position values a single position. When hasPrice is false the current
// price is null and the current value is zero.
func Position(pos model.Position, price decimal.Decimal, hasPrice bool) model.EnrichedPosition {
	qty := decimal.NewFromInt(pos.Quantity)

	ep := model.EnrichedPosition{
		Position:      pos,
		CurrentValue:  decimal.Zero,
		TotalInvested: qty.Mul(pos.AverageCost),
	}
	if hasPrice {
		ep.CurrentPrice = decimal.NewNullDecimal(price)
		ep.CurrentValue = qty.Mul(price)
	}
	ep.GainLoss = ep.CurrentValue.Sub(ep.TotalInvested)
	ep.GainLossPercentage = Percentage(ep.GainLoss, ep.TotalInvested)
	return ep
}

// Percentage returns gain/invested*100 rounded to 2 places, or zero when
// nothing was invested.
func Percentage(gain, invested decimal.Decimal) decimal.Decimal {
	if !invested.IsPositive() {
		return decimal.Zero
	}
	return gain.Div(invested).Mul(hundred).Round(2)
}
