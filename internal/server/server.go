package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ksred/klear-portfolio/internal/auth"
	"github.com/ksred/klear-portfolio/internal/config"
	"github.com/ksred/klear-portfolio/internal/database"
	"github.com/ksred/klear-portfolio/internal/ledger"
	"github.com/ksred/klear-portfolio/internal/oracle"
	"github.com/ksred/klear-portfolio/internal/portfolio"
	"github.com/ksred/klear-portfolio/internal/trading"
	"github.com/ksred/klear-portfolio/pkg/middleware"
)

const (
	janitorInterval = time.Hour
	shutdownGrace   = 5 * time.Second
)

// Server holds every long-lived component of the portfolio API
type Server struct {
	cfg *config.Config

	prices   *oracle.Static
	feed     *oracle.Feed
	registry *ledger.Registry
	store    *database.Store
	executor *trading.Executor
	trading  *trading.Service
	limiter  *middleware.RateLimiter

	router *gin.Engine
}

// Router returns the HTTP handler
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Registry returns the in-memory account registry
func (s *Server) Registry() *ledger.Registry {
	return s.registry
}

// Prices returns the live price table
func (s *Server) Prices() *oracle.Static {
	return s.prices
}

// Store returns the persistence queue
func (s *Server) Store() *database.Store {
	return s.store
}

// New wires the services together, restores persisted accounts and
// seeds the demo account when configured
func New(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		prices:   oracle.NewDefault(),
		registry: ledger.NewRegistry(),
		store:    database.NewStore(db, cfg.Persistence.Retries),
		limiter:  middleware.NewRateLimiter(),
	}
	s.feed = oracle.NewFeed(s.prices, cfg.Feed.Interval, cfg.Feed.MaxChange)

	users, err := s.store.LoadAccounts(s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to restore accounts: %w", err)
	}
	zlog.Info().Int("users", users).Msg("Restored accounts")

	s.executor = trading.NewExecutor(s.registry, s.prices,
		trading.WithCostBasis(cfg.CostBasisPolicy()),
		trading.WithNotifier(s.store),
	)
	s.trading = trading.NewService(s.executor, db)

	if cfg.Seed.Demo {
		if _, err := portfolio.SeedDemo(ctx, s.executor, s.registry, cfg.Seed.DemoUser); err != nil {
			return nil, err
		}
	}

	authService := auth.NewService(cfg.Auth.JWTSecret)
	for _, u := range cfg.Auth.Users {
		authService.RegisterUser(u.UserID, u.Secret)
	}

	s.router = gin.Default()
	setupRoutes(s.router,
		s.limiter,
		cfg.Auth.InternalKey,
		authService,
		auth.NewGinHandlers(authService),
		trading.NewGinHandlers(s.trading),
		portfolio.NewGinHandlers(portfolio.NewService(s.registry, s.prices)),
		oracle.NewGinHandlers(s.prices),
	)

	return s, nil
}

// StartWorkers runs the background loops under g. Each returns once ctx is done.
func (s *Server) StartWorkers(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return s.store.Start(ctx) })
	g.Go(func() error { return s.trading.StartJanitor(ctx, janitorInterval) })
	g.Go(func() error { return s.limiter.StartCleanup(ctx) })
	if s.cfg.Feed.Enabled {
		g.Go(func() error { return s.feed.Start(ctx) })
	}
}

// Serve runs the API on ln with the background workers until ctx is done.
// Shutdown stops accepting requests and waits for in-flight ones before the
// workers are stopped, then writes any ledger change still queued.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{Handler: s.router}

	g, gCtx := errgroup.WithContext(ctx)

	// Workers outlive the HTTP server so the store writer sees every order
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g.Go(func() error {
		zlog.Info().Str("addr", ln.Addr().String()).Msg("Starting server")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		zlog.Info().Msg("Shutting down server...")

		// Give outstanding requests 5 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		stopWorkers()
		return err
	})

	s.StartWorkers(workerCtx, g)

	err := g.Wait()

	// A request still running past the grace period can publish after the writer stopped
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if flushErr := s.store.Flush(flushCtx); flushErr != nil {
		zlog.Error().Err(flushErr).Int("pending", s.store.Pending()).Msg("Failed to flush ledger store")
		if err == nil {
			err = flushErr
		}
	}
	return err
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order and portfolio routes: Protected by JWT authentication
// - Internal routes: Protected by the internal key
func setupRoutes(
	router *gin.Engine,
	limiter *middleware.RateLimiter,
	internalKey string,
	authenticator middleware.Authenticator,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
	priceHandlers *oracle.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		authGroup.Use(limiter.Middleware())
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Routes acting on the caller's own account
		user := v1.Group("")
		user.Use(middleware.JWTAuth(authenticator), limiter.Middleware())
		{
			user.POST("/orders", tradingHandlers.CreateOrderHandler())
			user.GET("/portfolio", portfolioHandlers.GetSnapshotHandler())
			user.GET("/transactions", portfolioHandlers.GetTransactionsHandler())
			user.GET("/prices", priceHandlers.ListQuotesHandler())
			user.GET("/prices/:asset", priceHandlers.GetQuoteHandler())
		}

		// Internal routes for trusted price feeds
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(internalKey))
		{
			internal.PUT("/prices/:asset", priceHandlers.SetPriceHandler())
		}
	}
}
