package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/topcoder-platform/forums-groups/pkg/forums/cache"
	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
	"github.com/topcoder-platform/forums-groups/pkg/forums/database"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/server"
)

// @title Forum Groups API
// @version 2.0
// @description Groups, memberships, invitations and group discussions for the forums.

// @BasePath /api/v2

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token or API key. Format: "Bearer {token}"

func main() {
	configPath := flag.String("config", os.Getenv("FORUMS_CONFIG"), "path to a config file (yaml, toml or json)")
	flag.Parse()

	// A missing .env is fine; the environment and config file still apply
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.ErrorContext(ctx, "server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logg.InfoContext(ctx, "database migrations completed", zap.String("driver", cfg.Database.Driver))

	if err := server.EnsureAdmin(ctx, db, cfg.App, logg); err != nil {
		return err
	}

	var store cache.Cache = cache.NewMemory(cfg.Redis.TTL)
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		store = cache.NewRedis(client, cfg.Redis.TTL)
		logg.InfoContext(ctx, "using redis cache", zap.String("addr", cfg.Redis.Addr))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(server.Deps{
		Config:   cfg,
		DB:       db,
		Logger:   logg,
		Cache:    store,
		Registry: registry,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.InfoContext(ctx, "starting forums server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.InfoContext(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
