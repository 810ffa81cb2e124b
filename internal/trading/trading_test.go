package trading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-portfolio/internal/types"
	"github.com/ksred/klear-portfolio/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&IdempotencyRecord{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *Executor) {
	t.Helper()
	exec, _, _ := newTestExecutor(t)
	return NewService(exec, newTestDB(t)), exec
}

func TestService_PlaceOrderWithoutKey(t *testing.T) {
	svc, _ := newTestService(t)

	first, replayed, err := svc.PlaceOrder(context.Background(), "alice", buy("AAPL", types.AssetClassStock, 1), "")
	require.NoError(t, err)
	assert.False(t, replayed)

	second, _, err := svc.PlaceOrder(context.Background(), "alice", buy("AAPL", types.AssetClassStock, 1), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestService_IdempotencyKeyReplays(t *testing.T) {
	svc, exec := newTestService(t)
	ctx := context.Background()

	first, replayed, err := svc.PlaceOrder(ctx, "alice", buy("AAPL", types.AssetClassStock, 5), "key-1")
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.PlaceOrder(ctx, "alice", buy("AAPL", types.AssetClassStock, 5), "key-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	acc, _ := exec.registry.Lookup("alice")
	assert.Len(t, acc.Transactions(), 1)
	assert.Equal(t, 5.0, acc.Positions()[0].Quantity)

	// Keys are scoped per user
	_, replayed, err = svc.PlaceOrder(ctx, "bob", buy("AAPL", types.AssetClassStock, 5), "key-1")
	require.NoError(t, err)
	assert.False(t, replayed)
}

func TestService_IdempotencyKeyReusedForDifferentOrder(t *testing.T) {
	svc, exec := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.PlaceOrder(ctx, "alice", buy("AAPL", types.AssetClassStock, 5), "key-1")
	require.NoError(t, err)

	testCases := []struct {
		name  string
		order types.Order
	}{
		{name: "different quantity", order: buy("AAPL", types.AssetClassStock, 6)},
		{name: "different asset", order: buy("BTC", types.AssetClassCrypto, 5)},
		{name: "different direction", order: sell("AAPL", types.AssetClassStock, 5)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, replayed, err := svc.PlaceOrder(ctx, "alice", tc.order, "key-1")
			assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
			assert.False(t, replayed)
		})
	}

	// The original order is still replayable and nothing else executed
	again, replayed, err := svc.PlaceOrder(ctx, "alice", buy("AAPL", types.AssetClassStock, 5), "key-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)

	acc, _ := exec.registry.Lookup("alice")
	assert.Len(t, acc.Transactions(), 1)
}

func TestService_ConcurrentSameKeyExecutesOnce(t *testing.T) {
	svc, exec := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, _, err := svc.PlaceOrder(ctx, "alice", buy("BTC", types.AssetClassCrypto, 1), "same-key")
			assert.NoError(t, err)
			ids[i] = tx.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	acc, _ := exec.registry.Lookup("alice")
	assert.Len(t, acc.Transactions(), 1)
}

func TestService_FailedOrderIsNotRemembered(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.PlaceOrder(ctx, "alice", sell("AAPL", types.AssetClassStock, 1), "key-1")
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	existing, err := svc.db.GetIdempotentTransaction("alice", "key-1")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

func TestDatabase_ExpiredRecordsArePurged(t *testing.T) {
	db := newTestDB(t)
	store := NewDatabase(db)

	tx := types.Transaction{ID: "t1", Asset: "AAPL", Direction: types.DirectionBuy, Quantity: 1, Price: 1}
	require.NoError(t, store.SaveIdempotentTransaction("alice", "old", tx))
	require.NoError(t, db.Model(&IdempotencyRecord{}).
		Where("idempotency_key = ?", "old").
		Update("expires_at", time.Now().Add(-time.Hour)).Error)
	require.NoError(t, store.SaveIdempotentTransaction("alice", "fresh", tx))

	expired, err := store.GetIdempotentTransaction("alice", "old")
	require.NoError(t, err)
	assert.Nil(t, expired)

	n, err := store.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	fresh, err := store.GetIdempotentTransaction("alice", "fresh")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, "t1", fresh.ID)
}

func newOrderRouter(svc *Service, userID string) *gin.Engine {
	router := gin.New()
	router.POST("/orders", func(c *gin.Context) {
		if userID != "" {
			c.Set("userID", userID)
		}
		c.Next()
	}, NewGinHandlers(svc).CreateOrderHandler())
	return router
}

func postOrder(router *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateOrderHandler(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "buy in lower case",
			body:       `{"asset":"AAPL","asset_class":"stock","direction":"buy","quantity":2}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "zero quantity",
			body:       `{"asset":"AAPL","asset_class":"Stock","direction":"BUY","quantity":0}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   response.ErrCodeValidationFailed,
		},
		{
			name:       "unknown class",
			body:       `{"asset":"AAPL","asset_class":"Bond","direction":"BUY","quantity":1}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   response.ErrCodeValidationFailed,
		},
		{
			name:       "unknown asset",
			body:       `{"asset":"NOPE","asset_class":"Stock","direction":"BUY","quantity":1}`,
			wantStatus: http.StatusNotFound,
			wantCode:   response.ErrCodeNotFound,
		},
		{
			name:       "sell without holdings",
			body:       `{"asset":"AAPL","asset_class":"Stock","direction":"SELL","quantity":1}`,
			wantStatus: http.StatusConflict,
			wantCode:   response.ErrCodeInsufficientHoldings,
		},
		{
			name:       "missing fields",
			body:       `{"quantity":1}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   response.ErrCodeBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			w := postOrder(newOrderRouter(svc, "alice"), tc.body, nil)
			assert.Equal(t, tc.wantStatus, w.Code)

			var resp struct {
				Success bool            `json:"success"`
				Data    OrderResponse   `json:"data"`
				Error   *response.Error `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

			if tc.wantCode == "" {
				assert.True(t, resp.Success)
				assert.Equal(t, "Stock", resp.Data.AssetClass)
				assert.Equal(t, "BUY", resp.Data.Direction)
				assert.Equal(t, 341.0, resp.Data.TotalAmount)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestCreateOrderHandler_ReplaysIdempotencyKey(t *testing.T) {
	svc, _ := newTestService(t)
	router := newOrderRouter(svc, "alice")
	body := `{"asset":"BTC","asset_class":"Crypto","direction":"BUY","quantity":1}`
	headers := map[string]string{"Idempotency-Key": "abc"}

	var first, second struct {
		Data OrderResponse `json:"data"`
	}
	w := postOrder(router, body, headers)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = postOrder(router, body, headers)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	assert.False(t, first.Data.Replayed)
	assert.True(t, second.Data.Replayed)
	assert.Equal(t, first.Data.TransactionID, second.Data.TransactionID)
}

func TestCreateOrderHandler_RejectsReusedIdempotencyKey(t *testing.T) {
	svc, _ := newTestService(t)
	router := newOrderRouter(svc, "alice")
	headers := map[string]string{"Idempotency-Key": "abc"}

	w := postOrder(router, `{"asset":"BTC","asset_class":"Crypto","direction":"BUY","quantity":1}`, headers)
	require.Equal(t, http.StatusCreated, w.Code)

	w = postOrder(router, `{"asset":"BTC","asset_class":"Crypto","direction":"BUY","quantity":2}`, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Error *response.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, response.ErrCodeIdempotencyKeyReused, resp.Error.Code)
}

func TestCreateOrderHandler_RequiresUser(t *testing.T) {
	svc, _ := newTestService(t)
	w := postOrder(newOrderRouter(svc, ""), `{"asset":"AAPL","asset_class":"Stock","direction":"BUY","quantity":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
