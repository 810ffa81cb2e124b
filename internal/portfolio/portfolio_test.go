package portfolio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-portfolio/internal/ledger"
	"github.com/ksred/klear-portfolio/internal/oracle"
	"github.com/ksred/klear-portfolio/internal/risk"
	"github.com/ksred/klear-portfolio/internal/trading"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPortfolio(t *testing.T) (*Service, *trading.Executor, *ledger.Registry, *oracle.Static) {
	t.Helper()
	prices := oracle.NewDefault()
	registry := ledger.NewRegistry()
	return NewService(registry, prices), trading.NewExecutor(registry, prices), registry, prices
}

func TestService_SnapshotOfUnknownUser(t *testing.T) {
	svc, _, registry, _ := newTestPortfolio(t)

	snap := svc.GetSnapshot("nobody")
	assert.Empty(t, snap.Positions())
	assert.Equal(t, 0.0, snap.Valuation.TotalPortfolioValue)
	assert.Empty(t, snap.Valuation.Distribution)
	assert.Equal(t, risk.NoInvestments, snap.RiskTier)

	assert.Empty(t, svc.GetTransactionHistory("nobody"))
	assert.NotNil(t, svc.GetTransactionHistory("nobody"))

	// Reads never create accounts
	assert.Empty(t, registry.Users())
}

func TestService_SnapshotTracksPrices(t *testing.T) {
	ctx := context.Background()
	svc, exec, _, prices := newTestPortfolio(t)

	_, err := exec.Execute(ctx, "alice", types.Order{
		Asset: "AAPL", AssetClass: types.AssetClassStock, Direction: types.DirectionBuy, Quantity: 100,
	})
	require.NoError(t, err)

	snap := svc.GetSnapshot("alice")
	assert.InDelta(t, 17050.0, snap.Valuation.TotalPortfolioValue, 1e-9)
	assert.Equal(t, risk.MediumHighRisk, snap.RiskTier)

	require.NoError(t, prices.Set("AAPL", 180))
	snap = svc.GetSnapshot("alice")
	assert.InDelta(t, 18000.0, snap.Valuation.TotalPortfolioValue, 1e-9)
	assert.InDelta(t, 950.0, snap.Valuation.TotalUnrealizedPL, 1e-9)

	history := svc.GetTransactionHistory("alice")
	require.Len(t, history, 1)
	assert.Equal(t, 170.5, history[0].Price)
}

func TestService_SnapshotConsistentUnderConcurrentOrders(t *testing.T) {
	ctx := context.Background()
	svc, exec, registry, _ := newTestPortfolio(t)

	// A position no writer touches keeps the total above zero
	_, err := exec.Execute(ctx, "alice", types.Order{
		Asset: "EUR/USD", AssetClass: types.AssetClassForex, Direction: types.DirectionBuy, Quantity: 1000,
	})
	require.NoError(t, err)

	const writers, rounds = 4, 200
	assets := []types.Order{
		{Asset: "AAPL", AssetClass: types.AssetClassStock, Quantity: 10},
		{Asset: "BTC", AssetClass: types.AssetClassCrypto, Quantity: 0.5},
	}

	var writersWG, readersWG sync.WaitGroup
	var done atomic.Bool
	var snapshots atomic.Int64

	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			order := assets[w%len(assets)]
			for i := 0; i < rounds; i++ {
				order.Direction = types.DirectionBuy
				_, err := exec.Execute(ctx, "alice", order)
				assert.NoError(t, err)
				order.Direction = types.DirectionSell
				_, err = exec.Execute(ctx, "alice", order)
				assert.NoError(t, err)
			}
		}(w)
	}

	for r := 0; r < 2; r++ {
		readersWG.Add(1)
		go func() {
			defer readersWG.Done()
			acc := registry.Account("alice")
			for !done.Load() {
				snap := svc.GetSnapshot("alice")
				var sum float64
				for _, ratio := range snap.Valuation.Distribution {
					sum += ratio
				}
				assert.InDelta(t, 1.0, sum, 1e-9)
				for _, p := range snap.Positions() {
					assert.Greater(t, p.Quantity, 0.0, p.Asset)
				}
				for _, p := range acc.Positions() {
					assert.Greater(t, p.Quantity, 0.0, p.Asset)
				}
				snapshots.Add(1)
			}
		}()
	}

	writersWG.Wait()
	done.Store(true)
	readersWG.Wait()

	assert.Greater(t, snapshots.Load(), int64(0))

	// Every round trip closed its position again
	snap := svc.GetSnapshot("alice")
	require.Len(t, snap.Positions(), 1)
	assert.Equal(t, "EUR/USD", snap.Positions()[0].Asset)
	assert.Len(t, svc.GetTransactionHistory("alice"), 1+writers*rounds*2)
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	svc, exec, registry, _ := newTestPortfolio(t)

	n, err := SeedDemo(ctx, exec, registry, "demo")
	require.NoError(t, err)
	assert.Equal(t, len(DemoOrders), n)

	snap := svc.GetSnapshot("demo")
	require.Len(t, snap.Positions(), 3)
	assert.Equal(t, "AAPL", snap.Positions()[0].Asset)
	assert.Equal(t, 100.0, snap.Positions()[0].Quantity)
	assert.Equal(t, 170.5, snap.Positions()[0].OpenPrice)
	assert.Equal(t, risk.VeryHighRisk, snap.RiskTier)

	// A second run leaves the populated account alone
	n, err = SeedDemo(ctx, exec, registry, "demo")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, svc.GetTransactionHistory("demo"), 3)
}

func TestSeedDemo_StopsOnFailure(t *testing.T) {
	prices := oracle.NewStatic(map[string]float64{"AAPL": 170.5})
	registry := ledger.NewRegistry()
	exec := trading.NewExecutor(registry, prices)

	n, err := SeedDemo(context.Background(), exec, registry, "demo")
	assert.ErrorIs(t, err, trading.ErrAssetNotFound)
	assert.Equal(t, 1, n)
}

func TestNewSnapshotResponse_RoundsMoney(t *testing.T) {
	prices := oracle.NewStatic(map[string]float64{"ETH": 1860.5049})
	registry := ledger.NewRegistry()
	require.NoError(t, registry.Seed("alice", []types.Position{
		{Asset: "ETH", AssetClass: types.AssetClassCrypto, Quantity: 3, OpenPrice: 1000.333, LastPrice: 1000.333},
	}, nil))

	resp := NewSnapshotResponse(NewService(registry, prices).GetSnapshot("alice"))

	require.Len(t, resp.Positions, 1)
	assert.Equal(t, 5581.51, resp.Positions[0].TotalValue)
	assert.Equal(t, 5581.51, resp.TotalPortfolioValue)
	assert.Equal(t, 3001.0, resp.TotalCost)
	assert.Equal(t, string(risk.VeryHighRisk), resp.RiskTier)
	assert.Equal(t, risk.VeryHighRisk.Label(), resp.RiskLabel)
	assert.Equal(t, 1.0, resp.Distribution["Crypto"])
}

func newPortfolioRouter(svc *Service, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewGinHandlers(svc)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
		}
		c.Next()
	})
	router.GET("/portfolio", h.GetSnapshotHandler())
	router.GET("/transactions", h.GetTransactionsHandler())
	return router
}

func TestGinHandlers(t *testing.T) {
	ctx := context.Background()
	svc, exec, registry, _ := newTestPortfolio(t)
	_, err := SeedDemo(ctx, exec, registry, "alice")
	require.NoError(t, err)

	router := newPortfolioRouter(svc, "alice")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/portfolio", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap struct {
		Success bool             `json:"success"`
		Data    SnapshotResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Success)
	assert.Equal(t, "alice", snap.Data.UserID)
	assert.Len(t, snap.Data.Positions, 3)
	assert.Equal(t, "VERY_HIGH_RISK", snap.Data.RiskTier)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/transactions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var txs struct {
		Data []TransactionView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	require.Len(t, txs.Data, 3)
	assert.Equal(t, "AAPL", txs.Data[0].Asset)
	assert.Equal(t, 17050.0, txs.Data[0].TotalAmount)
	assert.Equal(t, "COMPLETED", txs.Data[0].Status)
}

func TestGinHandlers_RequireUser(t *testing.T) {
	svc, _, _, _ := newTestPortfolio(t)
	router := newPortfolioRouter(svc, "")

	for _, path := range []string{"/portfolio", "/transactions"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}
