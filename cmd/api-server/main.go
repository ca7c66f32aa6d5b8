package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-appointment-lifecycle/internal/api"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/appointment"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/config"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/db"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/lifecycle"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/metrics"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/notification"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/payment"
	redisclient "github.com/hackgods/clinic-appointment-lifecycle/internal/redis"
	"github.com/hackgods/clinic-appointment-lifecycle/internal/reservation"
	"github.com/hackgods/clinic-appointment-lifecycle/pkg/logging"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()

	schemaCtx, cancelSchema := context.WithTimeout(rootCtx, 10*time.Second)
	err = db.EnsureSchema(schemaCtx, pgPool)
	cancelSchema()
	if err != nil {
		log.Fatalf("schema error: %v", err)
	}
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
	ids := appointment.UUIDGenerator{}
	m := metrics.NewLifecycleMetrics(prometheus.DefaultRegisterer)

	repo := appointment.NewPgRepository(pgPool)
	dir := appointment.NewPgDirectory(pgPool)
	machine := appointment.NewStateMachine(clock)
	holdStore := redisclient.NewHoldStore(rdb)
	index := appointment.NewIndex(repo, dir, cfg.SlotGranularity, cfg.ClinicLocation)
	holds := reservation.NewManager(holdStore, cfg.HoldTTL, cfg.SlotGranularity, clock, logger)

	var source payment.OutcomeSource = payment.NewSimulatedSource(time.Now().UnixNano(), payment.DefaultSuccessRates)
	if cfg.AlwaysApprovePayments {
		source = payment.ApprovingSource{}
	}
	payments := payment.NewCoordinator(payment.CoordinatorConfig{
		Repository: repo,
		Machine:    machine,
		Source:     source,
		Claims:     holdStore,
		Logger:     logger,
		Metrics:    m,
	})

	store := notification.NewPgStore(pgPool)
	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		Store: store,
		Deliverer: notification.MultiDeliverer{
			notification.LogDeliverer{Logger: logger},
			redisclient.NewPublisher(rdb),
		},
		IDs:       ids,
		Clock:     clock,
		Location:  cfg.ClinicLocation,
		ManagerID: cfg.ReviewManagerID,
		Logger:    logger,
		Metrics:   m,
	})

	svc := lifecycle.New(lifecycle.Deps{
		Repository:    repo,
		Directory:     dir,
		Index:         index,
		Machine:       machine,
		Reservations:  holds,
		Payments:      payments,
		Dispatcher:    dispatcher,
		Notifications: store,
		Clock:         clock,
		IDs:           ids,
		Logger:        logger,
		Metrics:       m,
	})

	// Reads keep working without Redis; holds and payment claims do not.
	health := api.NewHealthHandler(cfg.Env, version).
		Critical("postgres", pgPool.Ping).
		Optional("redis", redisclient.Ping(rdb))

	go dispatcher.RetryUnsaved(rootCtx, cfg.WorkerInterval)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:  svc,
			Health:   health,
			Logger:   logger,
			Location: cfg.ClinicLocation,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	dispatcher.Wait()
	if _, err := dispatcher.FlushUnsaved(shutdownCtx); err != nil {
		logger.Error("notifications lost on shutdown", "batches", dispatcher.Unsaved(), "error", err)
	}
	logger.Info("api-server stopped")
}
