package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/lock"
	"github.com/hackgods/clinic-scheduling/internal/logger"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/sweeper"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	logg.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageBackend),
		zap.String("lock", cfg.LockBackend),
		zap.String("timezone", cfg.Location.String()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		rules availability.RuleStore
		repo  appointment.Repository
	)

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, logg)
		cancelPg()
		if err != nil {
			logg.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()

		if cfg.AutoMigrate {
			migrator, err := db.NewMigrator(pgPool, logg)
			if err != nil {
				logg.Fatal("migrator init error", zap.Error(err))
			}
			if err := migrator.Up(rootCtx); err != nil {
				logg.Fatal("migration error", zap.Error(err))
			}
			_ = migrator.Close()
		}

		rules = availability.NewPgRuleStore(pgPool)
		repo = appointment.NewPgRepository(pgPool)
	default:
		rules = availability.NewMemoryRuleStore(nil)
		repo = appointment.NewMemoryRepository(nil)
	}

	var (
		rdb    *redis.Client
		locker lock.Locker
	)
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logg.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logg.Warn("error closing redis", zap.Error(err))
			}
		}()
		logg.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
	default:
		locker = lock.NewLocalLocker()
	}

	resolver := availability.NewResolver(rules)
	appointments := appointment.NewService(appointment.Deps{
		Repo:       repo,
		Candidates: resolver,
		Locker:     locker,
		Logger:     logg.Named("appointment"),
		Now:        time.Now,
		Location:   cfg.Location,
		Policy:     cfg.Policy,
	})
	schedules := availability.NewService(rules, time.Now, cfg.Location, logg.Named("availability"))

	// The memory backend lives in this process, so nothing else can sweep it.
	if cfg.StorageBackend == config.StorageMemory {
		sw := sweeper.New(rules, resolver, repo, time.Now, cfg.Location, cfg.SweepHorizon, logg.Named("sweeper"))
		go sw.Run(rootCtx, cfg.SweepInterval)
	}

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Availability: schedules,
		Storage:      repo,
		StorageName:  cfg.StorageBackend,
		Redis:        rdb,
		Logger:       logg.Named("http"),
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logg.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logg.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("graceful shutdown failed", zap.Error(err))
	}
}
