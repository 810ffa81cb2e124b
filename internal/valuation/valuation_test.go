package valuation

import (
	"testing"

	"github.com/ksred/klear-portfolio/internal/oracle"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func held(asset string, class types.AssetClass, qty, open float64) types.Position {
	return types.Position{Asset: asset, AssetClass: class, Quantity: qty, OpenPrice: open, LastPrice: open}
}

func TestValuate_SinglePositionAtCost(t *testing.T) {
	prices := oracle.NewStatic(map[string]float64{"AAPL": 170.50})

	v := Valuate([]types.Position{held("AAPL", types.AssetClassStock, 100, 170.50)}, prices)

	require.Len(t, v.Positions, 1)
	assert.InDelta(t, 17050.00, v.Positions[0].TotalValue, 1e-9)
	assert.InDelta(t, 0.0, v.Positions[0].TotalRevenue, 1e-9)
	assert.InDelta(t, 17050.00, v.TotalPortfolioValue, 1e-9)
	assert.Equal(t, 1.0, v.Distribution.Ratio(types.AssetClassStock))
}

func TestValuate_RefreshesPricesWithoutMutating(t *testing.T) {
	prices := oracle.NewStatic(map[string]float64{"AAPL": 180, "BTC": 30000})
	positions := []types.Position{
		held("AAPL", types.AssetClassStock, 150, 170.50),
		held("BTC", types.AssetClassCrypto, 1, 28300),
	}

	v := Valuate(positions, prices)

	aapl := v.Positions[0]
	assert.Equal(t, 180.0, aapl.LastPrice)
	assert.InDelta(t, 150*180.0, aapl.TotalValue, 1e-9)
	assert.InDelta(t, 150*170.50, aapl.TotalCost, 1e-9)
	assert.InDelta(t, 150*(180-170.50), aapl.TotalRevenue, 1e-9)
	assert.InDelta(t, (180-170.50)/170.50*100, aapl.ProfitLossPercent, 1e-9)

	btc := v.Positions[1]
	assert.InDelta(t, (30000.0-28300)/28300*100, btc.ProfitLossPercent, 1e-9)

	assert.InDelta(t, aapl.TotalRevenue+btc.TotalRevenue, v.TotalUnrealizedPL, 1e-9)
	assert.InDelta(t, (aapl.ProfitLossPercent+btc.ProfitLossPercent)/2, v.AverageProfitLossPercent, 1e-9)

	// Input positions are untouched
	assert.Equal(t, 170.50, positions[0].LastPrice)
}

func TestValuate_DistributionSumsToOne(t *testing.T) {
	prices := oracle.NewDefault()
	positions := []types.Position{
		held("AAPL", types.AssetClassStock, 100, 150),
		held("MSFT", types.AssetClassStock, 3, 300),
		held("BTC", types.AssetClassCrypto, 0.25, 20000),
		held("ETH", types.AssetClassCrypto, 4, 1500),
		held("EUR/USD", types.AssetClassForex, 10000, 1.05),
	}

	v := Valuate(positions, prices)

	var sum float64
	for _, ratio := range v.Distribution {
		assert.Greater(t, ratio, 0.0)
		sum += ratio
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, v.Distribution, 3)
}

func TestValuate_MissingPriceReusesLastKnown(t *testing.T) {
	prices := oracle.NewStatic(map[string]float64{"AAPL": 200})
	positions := []types.Position{
		held("AAPL", types.AssetClassStock, 10, 100),
		{Asset: "DELISTED", AssetClass: types.AssetClassStock, Quantity: 5, OpenPrice: 10, LastPrice: 8},
	}

	v := Valuate(positions, prices)

	require.Len(t, v.Positions, 2)
	assert.False(t, v.Positions[0].Stale)
	assert.True(t, v.Positions[1].Stale)
	assert.Equal(t, 8.0, v.Positions[1].LastPrice)
	assert.InDelta(t, 10*200.0+5*8.0, v.TotalPortfolioValue, 1e-9)
}

func TestValuate_NilOracleMarksEverythingStale(t *testing.T) {
	v := Valuate([]types.Position{held("AAPL", types.AssetClassStock, 1, 100)}, nil)
	require.Len(t, v.Positions, 1)
	assert.True(t, v.Positions[0].Stale)
	assert.Equal(t, 100.0, v.TotalPortfolioValue)
}

func TestValuate_EmptyBook(t *testing.T) {
	v := Valuate(nil, oracle.NewDefault())

	assert.Empty(t, v.Positions)
	assert.Equal(t, 0.0, v.TotalPortfolioValue)
	assert.Equal(t, 0.0, v.AverageProfitLossPercent)
	assert.NotNil(t, v.Distribution)
	assert.Empty(t, v.Distribution)
}

func TestValuate_ZeroValueHasNoDistribution(t *testing.T) {
	// A position priced at zero by a stale last price contributes no value
	positions := []types.Position{
		{Asset: "GONE", AssetClass: types.AssetClassStock, Quantity: 1, OpenPrice: 5, LastPrice: 0},
	}
	v := Valuate(positions, oracle.NewStatic(nil))

	assert.Equal(t, 0.0, v.TotalPortfolioValue)
	assert.Empty(t, v.Distribution)
	assert.InDelta(t, -100.0, v.AverageProfitLossPercent, 1e-9)
}
