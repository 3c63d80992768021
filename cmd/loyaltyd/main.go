package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"loyaltyd/config"
	"loyaltyd/events"
	"loyaltyd/models"
	"loyaltyd/observability/logging"
	"loyaltyd/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("loyaltyd", cfg.Environment)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	if err := models.AutoMigrate(db); err != nil {
		logger.Error("auto migrate failed", "error", err)
		os.Exit(1)
	}

	if cfg.SeedDefaults {
		if err := models.Seed(db, time.Now()); err != nil {
			logger.Error("seed failed", "error", err)
			os.Exit(1)
		}
		logger.Info("default tiers and rewards seeded")
	}

	srv := server.New(server.Config{
		DB:              db,
		AuthSecret:      []byte(cfg.AuthSecret),
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		Emitter:         &events.LogEmitter{Logger: logger},
		PointsPerDollar: cfg.Program.PointsPerDollar,
		RedemptionTTL:   time.Duration(cfg.Program.RedemptionTTLDays) * 24 * time.Hour,
		Cooldown:        time.Duration(cfg.Program.CooldownDays) * 24 * time.Hour,
		ReviewPoints:    cfg.Program.ReviewPoints,
		ReviewMinRating: cfg.Program.ReviewMinRating,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runSweeper(ctx, srv, cfg.SweepInterval.Duration, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("loyalty service listening", "address", cfg.ListenAddress, "driver", cfg.Database.Driver)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	switch cfg.Driver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// runSweeper expires stale redemptions on a fixed interval until shutdown.
func runSweeper(ctx context.Context, srv *server.Server, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := srv.Workflow.ExpireStale(ctx, time.Now())
			if err != nil {
				logger.Error("redemption sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				logger.Info("expired stale redemptions", "count", expired)
			}
		}
	}
}
