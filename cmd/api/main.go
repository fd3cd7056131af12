package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/medspa-scheduling/cmd/mainconfig"
	"github.com/wolfman30/medspa-scheduling/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-scheduling/internal/config"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

func main() {
	// Local runs read a .env file; deployed environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medspa-scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	srv := newServer(cfg, rt.Handler())

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	rt.Close()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func buildRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*bootstrap.Runtime, error) {
	pool, sqlDB, err := bootstrap.BuildDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	var clients bootstrap.AWSClients
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Warn("AWS config unavailable; AWS-backed apps disabled", "error", err)
	} else {
		clients = bootstrap.NewAWSClients(awsCfg, cfg)
	}

	return bootstrap.Build(cfg, logger, bootstrap.Stores{
		Pool:  pool,
		SQL:   sqlDB,
		Redis: redisClient,
	}, clients)
}

// newServer leaves WriteTimeout unset so live-feed websockets stay open; the
// gateway bounds every other webhook itself.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
