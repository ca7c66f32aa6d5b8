package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/config"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/db"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/metrics"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/notification"
	redisclient "github.com/hackgods/clinic-appointment-lifecycle/internal/redis"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/worker"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("notification-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	clock := appointment.SystemClock{}

	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		Store: notification.NewPgStore(pgPool),
		Deliverer: notification.MultiDeliverer{
			notification.LogDeliverer{Logger: logger},
			redisclient.NewPublisher(rdb),
		},
		Clock:     clock,
		Location:  cfg.ClinicLocation,
		ManagerID: cfg.ReviewManagerID,
		Logger:    logger,
		Metrics:   metrics.NewLifecycleMetrics(prometheus.DefaultRegisterer),
	})

	w := worker.New(worker.Config{
		Repository:  appointment.NewPgRepository(pgPool),
		Dispatcher:  dispatcher,
		Claims:      redisclient.NewHoldStore(rdb),
		Clock:       clock,
		Logger:      logger,
		Interval:    cfg.WorkerInterval,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})

	w.Run(rootCtx)

	dispatcher.Wait()
	logger.Info("notification-worker stopped")
}
