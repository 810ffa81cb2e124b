package portfolio

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/ksred/klear-portfolio/pkg/response"
)

// PositionView is one row of the portfolio table
type PositionView struct {
	Asset             string    `json:"asset"`
	AssetClass        string    `json:"asset_class"`
	Quantity          float64   `json:"quantity"`
	OpenPrice         float64   `json:"open_price"`
	LastPrice         float64   `json:"last_price"`
	TotalValue        float64   `json:"total_value"`
	TotalRevenue      float64   `json:"total_revenue"`
	ProfitLossPercent float64   `json:"profit_loss_percent"`
	Stale             bool      `json:"stale"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SnapshotResponse is the JSON shape of a snapshot
type SnapshotResponse struct {
	UserID                   string             `json:"user_id"`
	Positions                []PositionView     `json:"positions"`
	TotalPortfolioValue      float64            `json:"total_portfolio_value"`
	TotalCost                float64            `json:"total_cost"`
	TotalUnrealizedPL        float64            `json:"total_unrealized_pl"`
	AverageProfitLossPercent float64            `json:"average_profit_loss_percent"`
	Distribution             map[string]float64 `json:"distribution"`
	RiskTier                 string             `json:"risk_tier"`
	RiskLabel                string             `json:"risk_label"`
	Timestamp                time.Time          `json:"timestamp"`
}

// TransactionView is one row of the transaction history
type TransactionView struct {
	ID          string    `json:"id"`
	Asset       string    `json:"asset"`
	AssetClass  string    `json:"asset_class"`
	Direction   string    `json:"direction"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	TotalAmount float64   `json:"total_amount"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewSnapshotResponse converts a snapshot, rounding money to cents
func NewSnapshotResponse(s Snapshot) SnapshotResponse {
	v := s.Valuation
	resp := SnapshotResponse{
		UserID:                   s.UserID,
		Positions:                make([]PositionView, 0, len(v.Positions)),
		TotalPortfolioValue:      response.Money(v.TotalPortfolioValue),
		TotalCost:                response.Money(v.TotalCost),
		TotalUnrealizedPL:        response.Money(v.TotalUnrealizedPL),
		AverageProfitLossPercent: response.Percent(v.AverageProfitLossPercent),
		Distribution:             make(map[string]float64, len(v.Distribution)),
		RiskTier:                 string(s.RiskTier),
		RiskLabel:                s.RiskTier.Label(),
		Timestamp:                s.TakenAt,
	}
	for _, p := range v.Positions {
		resp.Positions = append(resp.Positions, PositionView{
			Asset:             p.Asset,
			AssetClass:        string(p.AssetClass),
			Quantity:          p.Quantity,
			OpenPrice:         p.OpenPrice,
			LastPrice:         p.LastPrice,
			TotalValue:        response.Money(p.TotalValue),
			TotalRevenue:      response.Money(p.TotalRevenue),
			ProfitLossPercent: response.Percent(p.ProfitLossPercent),
			Stale:             p.Stale,
			UpdatedAt:         p.UpdatedAt,
		})
	}
	for class, ratio := range v.Distribution {
		resp.Distribution[string(class)] = ratio
	}
	return resp
}

func newTransactionViews(txs []types.Transaction) []TransactionView {
	out := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionView{
			ID:          tx.ID,
			Asset:       tx.Asset,
			AssetClass:  string(tx.AssetClass),
			Direction:   string(tx.Direction),
			Quantity:    tx.Quantity,
			Price:       tx.Price,
			TotalAmount: response.Money(tx.TotalAmount()),
			Status:      string(tx.Status),
			Timestamp:   tx.Timestamp,
		})
	}
	return out
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetSnapshotHandler handles GET requests for the caller's valued portfolio
func (h *GinHandlers) GetSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		response.Success(c, NewSnapshotResponse(h.service.GetSnapshot(userID)))
	}
}

// GetTransactionsHandler handles GET requests for the caller's transaction history
func (h *GinHandlers) GetTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		response.Success(c, newTransactionViews(h.service.GetTransactionHistory(userID)))
	}
}
