package oracle

import "github.com/ksred/klear-portfolio/internal/types"

// DefaultPrices is the reference price list used by the dashboard's mock market
var DefaultPrices = map[string]float64{
	"ASELS": 28.40, "THYAO": 14.90, "KRDMD": 9.80,
	"SISE": 7.15, "EKGYO": 1.45, "AKBNK": 8.30,
	"ISCTR": 6.50, "GARAN": 9.60, "BIMAS": 122.75,
	"SAHOL": 6.75, "AAPL": 170.50, "MSFT": 310.00,
	"AMZN": 140.20, "GOOGL": 130.75, "META": 320.10,
	"TSLA": 195.25, "NVDA": 280.50, "BRK.B": 310.75,
	"JPM": 140.50, "V": 235.60, "BTC": 28300.00,
	"ETH": 1860.50, "USDT": 1.00, "BNB": 310.25,
	"SOL": 23.45, "EUR/USD": 1.12, "USD/TRY": 27.45,
	"EUR/TRY": 29.85, "GBP/USD": 1.31, "USD/JPY": 134.50,
	"AUD/USD": 0.66, "GOLD": 1900.00,
}

var (
	cryptoAssets = map[string]bool{"BTC": true, "ETH": true, "BNB": true, "SOL": true, "USDT": true}

	// Every currency pair in the price list is forex, EUR/TRY included
	forexAssets = map[string]bool{
		"EUR/USD": true, "USD/TRY": true, "EUR/TRY": true,
		"GBP/USD": true, "USD/JPY": true, "AUD/USD": true,
	}
)

// ClassOf returns the catalog class for a known symbol. Anything that is not a
// listed crypto or currency pair is treated as a stock.
func ClassOf(asset string) types.AssetClass {
	switch {
	case cryptoAssets[asset]:
		return types.AssetClassCrypto
	case forexAssets[asset]:
		return types.AssetClassForex
	default:
		return types.AssetClassStock
	}
}
