package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ksred/klear-portfolio/internal/config"
	"github.com/ksred/klear-portfolio/internal/database"
	"github.com/ksred/klear-portfolio/internal/portfolio"
	"github.com/ksred/klear-portfolio/internal/server"
	"github.com/ksred/klear-portfolio/internal/trading"
)

const (
	minOrders        = 15
	maxOrders        = 150
	simulationSecret = "simulation-secret"
)

type instrument struct {
	asset string
	class string
}

var (
	instruments = []instrument{
		{"AAPL", "Stock"}, {"GOOGL", "Stock"}, {"MSFT", "Stock"},
		{"AMZN", "Stock"}, {"META", "Stock"},
		{"BTC", "Crypto"}, {"ETH", "Crypto"}, {"SOL", "Crypto"},
		{"EUR/USD", "Forex"}, {"USD/TRY", "Forex"},
	}
	directions = []string{"BUY", "SELL"}
)

// errRejected marks an order the server refused for a business reason
var errRejected = errors.New("order rejected")

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	gin.SetMode(gin.ReleaseMode)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// envelope mirrors the API response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// simulationClient trades as one user against the portfolio API
type simulationClient struct {
	baseURL   string
	userID    string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient authenticates userID and returns a ready client.
// stats is shared between clients.
func newSimulationClient(baseURL, userID string, stats map[string]*routeStats) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: baseURL,
		userID:  userID,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   stats,
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", userID, err)
	}
	sc.authToken = token

	return sc, nil
}

// do sends a request and decodes the envelope, timing it under route
func (sc *simulationClient) do(route, method, path string, body interface{}, headers map[string]string) (*envelope, int, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.stats[route].addDuration(time.Since(start), failed)
	}()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewBuffer(b)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	failed = resp.StatusCode >= http.StatusInternalServerError
	return &env, resp.StatusCode, nil
}

// authenticate exchanges the user's secret for a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	creds := map[string]string{"user_id": sc.userID, "secret": simulationSecret}
	env, status, err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", creds, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", status)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

// placeOrder submits one order. Business rejections return errRejected.
func (sc *simulationClient) placeOrder(req trading.OrderRequest) (*trading.OrderResponse, error) {
	env, status, err := sc.do("order", http.MethodPost, "/api/v1/orders", req,
		map[string]string{"Idempotency-Key": uuid.New().String()})
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK && status != http.StatusCreated {
		msg := ""
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Message
		}
		if status < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w (%d) %s", errRejected, status, msg)
		}
		return nil, fmt.Errorf("order failed with status %d: %s", status, msg)
	}

	var result trading.OrderResponse
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// snapshot fetches the user's valued portfolio
func (sc *simulationClient) snapshot() (*portfolio.SnapshotResponse, error) {
	env, status, err := sc.do("portfolio", http.MethodGet, "/api/v1/portfolio", nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("portfolio failed with status %d", status)
	}

	var result portfolio.SnapshotResponse
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// simulationStats collects order outcomes across workers
type simulationStats struct {
	mu         sync.Mutex
	placed     int
	rejected   int
	failed     int
	totalValue float64
	assets     map[string]int
	directions map[string]int
}

func (s *simulationStats) record(resp *trading.OrderResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, errRejected):
		s.rejected++
	case err != nil:
		s.failed++
	default:
		s.placed++
		s.totalValue += resp.TotalAmount
		s.assets[resp.Asset]++
		s.directions[resp.Direction]++
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats(stats map[string]*routeStats) {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, key := range []string{"auth", "order", "portfolio"} {
		rs := stats[key]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			rs.name,
			rs.totalCalls,
			rs.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main starts an in-process API server and drives it with concurrent users
func main() {
	port := flag.String("port", "8089", "port for the in-process server")
	numUsers := flag.Int("users", 3, "number of simulated users")
	numWorkers := flag.Int("workers", 2, "concurrent workers per user")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, users, err := startServer(ctx, *port, *numUsers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	baseURL := "http://localhost:" + *port
	routes := map[string]*routeStats{
		"auth":      {name: "Authentication"},
		"order":     {name: "Place Order"},
		"portfolio": {name: "Portfolio"},
	}
	stats := &simulationStats{
		assets:     make(map[string]int),
		directions: make(map[string]int),
	}

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	perWorker := targetOrders / (*numUsers * *numWorkers)
	if perWorker == 0 {
		perWorker = 1
	}
	log.Info().
		Int("target_orders", targetOrders).
		Int("users", *numUsers).
		Int("workers_per_user", *numWorkers).
		Msg("Starting simulation")

	started := time.Now()
	clients := make([]*simulationClient, 0, len(users))
	for _, userID := range users {
		sc, err := newSimulationClient(baseURL, userID, routes)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize simulation client")
		}
		clients = append(clients, sc)
	}

	var g errgroup.Group
	for _, sc := range clients {
		for w := 0; w < *numWorkers; w++ {
			sc, workerID := sc, w
			g.Go(func() error {
				placeOrders(sc, workerID, perWorker, stats)
				return nil
			})
		}
	}
	_ = g.Wait()

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 PORTFOLIO SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	for _, sc := range clients {
		snap, err := sc.snapshot()
		if err != nil {
			log.Error().Err(err).Str("user_id", sc.userID).Msg("Failed to fetch portfolio")
			continue
		}
		fmt.Printf("%-10s value $%12.2f  P/L $%12.2f  positions %2d  risk %s\n",
			sc.userID, snap.TotalPortfolioValue, snap.TotalUnrealizedPL, len(snap.Positions), snap.RiskLabel)
	}

	duration := time.Since(started)
	fmt.Printf(`
📊 Order Statistics
------------------
Placed:           %d
Rejected:         %d
Failed:           %d
Total Value:      $%.2f
Duration:         %v

📈 Asset Distribution
--------------------
`, stats.placed, stats.rejected, stats.failed, stats.totalValue, duration.Round(time.Millisecond))

	printBars(stats.assets)
	fmt.Println("\n📉 Direction Distribution")
	fmt.Println("------------------")
	printBars(stats.directions)
	fmt.Println("\n" + strings.Repeat("=", 80))

	printPerformanceStats(routes)

	// Let the store write everything before reporting persistence
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := srv.Store().Flush(flushCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush ledger store")
	}

	log.Info().
		Int("placed", stats.placed).
		Int("rejected", stats.rejected).
		Int("pending_writes", srv.Store().Pending()).
		Dur("duration", duration).
		Msg("Simulation completed")
}

// placeOrders sends numOrders random orders for one user. Sells are sized
// from what the worker believes is held, so most succeed and some race
// other workers into an insufficient holdings rejection.
func placeOrders(sc *simulationClient, workerID, numOrders int, stats *simulationStats) {
	held := make(map[string]float64)

	for i := 0; i < numOrders; i++ {
		inst := instruments[rand.Intn(len(instruments))]
		direction := directions[rand.Intn(len(directions))]
		quantity := float64(rand.Intn(100) + 1)
		if direction == "SELL" && held[inst.asset] > 0 {
			quantity = math.Ceil(held[inst.asset] * rand.Float64())
		}

		resp, err := sc.placeOrder(trading.OrderRequest{
			Asset:      inst.asset,
			AssetClass: inst.class,
			Direction:  direction,
			Quantity:   quantity,
		})
		stats.record(resp, err)

		logger := log.With().
			Str("user_id", sc.userID).
			Int("worker_id", workerID).
			Str("asset", inst.asset).
			Str("direction", direction).
			Float64("quantity", quantity).
			Logger()

		if err != nil {
			if errors.Is(err, errRejected) {
				logger.Debug().Err(err).Msg("Order rejected")
			} else {
				logger.Error().Err(err).Msg("Failed to place order")
			}
			continue
		}

		if direction == "BUY" {
			held[inst.asset] += quantity
		} else {
			held[inst.asset] -= quantity
		}
		logger.Info().
			Str("transaction_id", resp.TransactionID).
			Float64("price", resp.Price).
			Msg("Order placed")

		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}
}

func printBars(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	maxCount := 0
	for k, c := range counts {
		keys = append(keys, k)
		if c > maxCount {
			maxCount = c
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		bar := strings.Repeat("█", int(float64(counts[k])/float64(maxCount)*20))
		fmt.Printf("%-8s: %s (%d)\n", k, bar, counts[k])
	}
}

// startServer runs the API in-process against an in-memory database and
// registers one account per simulated user
func startServer(ctx context.Context, port string, numUsers int) (*server.Server, []string, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, nil, err
	}
	cfg.Server.Port = port
	cfg.Database.Path = "file:simulation?mode=memory&cache=shared"
	cfg.Feed.Interval = time.Second

	users := make([]string, numUsers)
	for i := range users {
		users[i] = fmt.Sprintf("sim-user-%d", i+1)
		cfg.Auth.Users = append(cfg.Auth.Users, config.User{UserID: users[i], Secret: simulationSecret})
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	srv, err := server.New(ctx, cfg, db)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			log.Fatal().Err(err).Msg("Server stopped with error")
		}
	}()

	return srv, users, nil
}
