package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	"github.com/hackgods/clinic-scheduling/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.StorageBackend != config.StoragePostgres {
		log.Fatalf("slot-sweeper needs STORAGE_BACKEND=postgres; the memory backend is swept by api-server")
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	logg.Info("slot-sweeper starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweepInterval),
		zap.Int("horizon_days", cfg.SweepHorizon),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logg)
	cancelPg()
	if err != nil {
		logg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	rules := availability.NewPgRuleStore(pgPool)
	repo := appointment.NewPgRepository(pgPool)

	sw := sweeper.New(rules, availability.NewResolver(rules), repo, time.Now, cfg.Location, cfg.SweepHorizon, logg)
	sw.Run(rootCtx, cfg.SweepInterval)
}
