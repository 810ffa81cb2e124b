package risk

import (
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/ksred/klear-portfolio/internal/valuation"
)

// Tier is the risk classification of a portfolio
type Tier string

const (
	VeryHighRisk    Tier = "VERY_HIGH_RISK"
	HighRisk        Tier = "HIGH_RISK"
	MediumHighRisk  Tier = "MEDIUM_HIGH_RISK"
	MediumRisk      Tier = "MEDIUM_RISK"
	LowToMediumRisk Tier = "LOW_TO_MEDIUM_RISK"
	NoInvestments   Tier = "NO_INVESTMENTS"
)

// Thresholds on asset-class ratios, checked in the order of Classify
const (
	cryptoVeryHighThreshold = 0.6
	cryptoHighThreshold     = 0.3
	stockHeavyThreshold     = 0.7
	stockBalancedThreshold  = 0.4
	forexBalancedThreshold  = 0.3
)

var labels = map[Tier]string{
	VeryHighRisk:    "Very High Risk (Crypto Heavy)",
	HighRisk:        "High Risk (Significant Crypto)",
	MediumHighRisk:  "Medium-High Risk (Stock Biased)",
	MediumRisk:      "Medium Risk (Balanced)",
	LowToMediumRisk: "Low to Medium Risk (Diversified or Forex/Fixed Income Heavy)",
	NoInvestments:   "No Investments",
}

// Label is the human readable description shown on the dashboard
func (t Tier) Label() string {
	return labels[t]
}

// Classify maps an asset-class distribution to a risk tier.
// Rules are evaluated top to bottom and the first match wins, so crypto
// exposure always dominates stock exposure.
func Classify(d valuation.Distribution) Tier {
	var total float64
	for _, ratio := range d {
		total += ratio
	}
	if total <= 0 {
		return NoInvestments
	}

	crypto := d.Ratio(types.AssetClassCrypto)
	stock := d.Ratio(types.AssetClassStock)
	forex := d.Ratio(types.AssetClassForex)

	switch {
	case crypto > cryptoVeryHighThreshold:
		return VeryHighRisk
	case crypto > cryptoHighThreshold:
		return HighRisk
	case stock > stockHeavyThreshold:
		return MediumHighRisk
	case stock > stockBalancedThreshold && forex > forexBalancedThreshold:
		return MediumRisk
	default:
		return LowToMediumRisk
	}
}
