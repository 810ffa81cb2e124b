package valuation

import (
	"github.com/ksred/klear-portfolio/internal/oracle"
	"github.com/ksred/klear-portfolio/internal/types"
)

// Distribution is the share of total portfolio value held in each asset class.
// Classes with no holdings are absent.
type Distribution map[types.AssetClass]float64

// Ratio returns the share for class, zero when absent
func (d Distribution) Ratio(class types.AssetClass) float64 {
	return d[class]
}

// PositionValuation is a position with its derived figures at valuation time
type PositionValuation struct {
	types.Position
	TotalValue        float64 `json:"total_value"`
	TotalCost         float64 `json:"total_cost"`
	TotalRevenue      float64 `json:"total_revenue"`
	ProfitLossPercent float64 `json:"profit_loss_percent"`
	// Stale is set when the oracle had no price and the last known price was reused
	Stale bool `json:"stale"`
}

// PortfolioValuation aggregates every position of one book
type PortfolioValuation struct {
	Positions                []PositionValuation `json:"positions"`
	TotalPortfolioValue      float64             `json:"total_portfolio_value"`
	TotalCost                float64             `json:"total_cost"`
	TotalUnrealizedPL        float64             `json:"total_unrealized_pl"`
	AverageProfitLossPercent float64             `json:"average_profit_loss_percent"`
	Distribution             Distribution        `json:"distribution"`
}

// Valuate prices every position with the oracle and derives the aggregates.
// It does not modify positions. An asset the oracle cannot price keeps its last
// known price instead of failing the whole valuation.
//
// The average P/L percent is the unweighted mean over positions, so a small
// position moves it as much as a large one.
func Valuate(positions []types.Position, prices oracle.PriceOracle) PortfolioValuation {
	v := PortfolioValuation{
		Positions:    make([]PositionValuation, 0, len(positions)),
		Distribution: Distribution{},
	}
	if len(positions) == 0 {
		return v
	}

	byClass := make(map[types.AssetClass]float64)
	var plPercentSum float64
	for _, p := range positions {
		pv := valuatePosition(p, prices)
		v.Positions = append(v.Positions, pv)

		v.TotalPortfolioValue += pv.TotalValue
		v.TotalCost += pv.TotalCost
		v.TotalUnrealizedPL += pv.TotalRevenue
		plPercentSum += pv.ProfitLossPercent
		byClass[pv.AssetClass] += pv.TotalValue
	}

	v.AverageProfitLossPercent = plPercentSum / float64(len(v.Positions))

	if v.TotalPortfolioValue > 0 {
		for class, value := range byClass {
			v.Distribution[class] = value / v.TotalPortfolioValue
		}
	}
	return v
}

func valuatePosition(p types.Position, prices oracle.PriceOracle) PositionValuation {
	pv := PositionValuation{Position: p}
	if price, ok := lookup(prices, p.Asset); ok {
		pv.LastPrice = price
	} else {
		pv.Stale = true
	}

	pv.TotalValue = pv.Quantity * pv.LastPrice
	pv.TotalCost = pv.Quantity * pv.OpenPrice
	pv.TotalRevenue = pv.Quantity * (pv.LastPrice - pv.OpenPrice)
	if pv.OpenPrice > 0 {
		pv.ProfitLossPercent = (pv.LastPrice - pv.OpenPrice) / pv.OpenPrice * 100
	}
	return pv
}

func lookup(prices oracle.PriceOracle, asset string) (float64, bool) {
	if prices == nil {
		return 0, false
	}
	price, ok := prices.Lookup(asset)
	if !ok || !(price > 0) {
		return 0, false
	}
	return price, true
}
