package oracle

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-portfolio/pkg/response"
	"github.com/rs/zerolog/log"
)

// SetPriceRequest is the body of an internal price update
type SetPriceRequest struct {
	Price float64 `json:"price" binding:"required"`
}

// GinHandlers exposes the price table over HTTP
type GinHandlers struct {
	prices *Static
}

func NewGinHandlers(prices *Static) *GinHandlers {
	return &GinHandlers{prices: prices}
}

// ListQuotesHandler handles GET requests for every known quote
func (h *GinHandlers) ListQuotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.prices.Quotes())
	}
}

// GetQuoteHandler handles GET requests for one asset's quote.
// Pairs such as EUR/USD are addressed as EUR-USD.
// URL parameter: asset
func (h *GinHandlers) GetQuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		asset := symbolFromPath(c.Param("asset"))
		q, ok := h.prices.Quote(asset)
		if !ok {
			response.NotFound(c, "No price for "+asset)
			return
		}
		response.Success(c, q)
	}
}

// SetPriceHandler handles PUT requests from an external feed
// Requires internal authentication
// URL parameter: asset
func (h *GinHandlers) SetPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		asset := symbolFromPath(c.Param("asset"))

		var req SetPriceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if err := h.prices.Set(asset, req.Price); err != nil {
			response.ValidationFailed(c, err.Error())
			return
		}

		log.Info().
			Str("component", "price_oracle").
			Str("asset", asset).
			Float64("price", req.Price).
			Msg("price updated")

		q, _ := h.prices.Quote(asset)
		response.Success(c, q)
	}
}

func symbolFromPath(param string) string {
	return strings.ToUpper(strings.ReplaceAll(param, "-", "/"))
}
