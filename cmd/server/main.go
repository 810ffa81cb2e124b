package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-portfolio/internal/config"
	"github.com/ksred/klear-portfolio/internal/database"
	"github.com/ksred/klear-portfolio/internal/server"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main loads configuration, restores persisted accounts and serves the
// portfolio API until SIGINT or SIGTERM
func main() {
	configPath := flag.String("config", os.Getenv("KLEAR_CONFIG"), "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Log.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := server.New(ctx, cfg, db)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize application")
	}

	ln, err := net.Listen("tcp", ":"+cfg.Server.Port)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to listen")
	}

	if err := a.Serve(ctx, ln); err != nil {
		zlog.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}

	zlog.Info().Msg("Server exiting")
}
