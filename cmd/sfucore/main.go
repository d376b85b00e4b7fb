package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"sfucore/internal/core/ports"
	"sfucore/internal/core/services"
	httphandlers "sfucore/internal/handlers/http"
	"sfucore/internal/infrastructure/distributed"
	"sfucore/internal/infrastructure/middleware"
	"sfucore/internal/infrastructure/monitoring"
	"sfucore/internal/infrastructure/repositories"
	"sfucore/internal/infrastructure/signal"
	webrtcinfra "sfucore/internal/infrastructure/webrtc"
	"sfucore/pkg/config"
	"sfucore/pkg/logger"
	"sfucore/pkg/tracing"
	"sfucore/pkg/utils"
)

const (
	eventBatchSize     = 64
	eventFlushInterval = 50 * time.Millisecond
)

func main() {
	cfg, source, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	if cfg.InstanceID == "" {
		cfg.InstanceID = utils.NewInstanceID()
	}
	log := zapLogger.Sugar().With("instance_id", cfg.InstanceID)
	log.Infow("configuration loaded", "source", source)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "sfucore",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	inviteStore := repoFactory.CreateInviteStore()

	var (
		metrics   ports.MetricsRecorder = services.NopMetrics{}
		wsMetrics signal.ConnectionMetrics
		gatherer  prometheus.Gatherer
	)
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metrics, wsMetrics, gatherer = collector, collector, prometheus.DefaultGatherer
		log.Info("Prometheus metrics enabled")
	}

	engine := webrtcinfra.NewEngine(engineConfig(cfg), log)
	pool := services.NewWorkerPool(engine, log, metrics, func(workerID string, err error) {
		// Rooms on a dead worker cannot be recovered in-process.
		log.Fatalw("media worker died", "worker_id", workerID, "error", err)
	})
	if err := pool.Initialize(ctx, cfg.Media.NumWorkers); err != nil {
		log.Fatalw("failed to start media workers", "error", err)
	}

	var (
		registry ports.RoomRegistry
		rooms    *distributed.RoomRegistry
		bus      *distributed.EventBus
	)
	if repoFactory.UsingRedis() {
		client := repoFactory.RedisClient()
		rooms = distributed.NewRoomRegistry(client, cfg.InstanceID, cfg.Redis.LeaseTTL, log)
		registry = rooms
		bus = distributed.NewEventBus(client, cfg.InstanceID, eventBatchSize, eventFlushInterval, log)
	}

	dir := services.NewDirectory(services.DirectoryConfig{
		InviteTTL:         cfg.Session.InviteTTL,
		InviteMaxAttempts: cfg.Session.InviteMaxAttempts,
	}, inviteStore, registry, log, metrics)
	if rooms != nil {
		rooms.OnLost(func(roomID string) {
			if room, err := dir.Get(roomID); err == nil {
				room.Close()
			}
		})
	}

	identity, breakerStats := buildIdentity(cfg, log)

	hub := signal.NewHub(log)
	ctrl := services.NewController(controllerConfig(cfg), dir, pool, identity, hub, metrics, log)
	if bus != nil {
		ctrl.SetPublisher(bus)
	}

	heartbeat := services.NewHeartbeatMonitor(ctrl, cfg.Session.Heartbeat.Interval, log)
	if cfg.Session.Heartbeat.Enabled {
		heartbeat.Start(ctx)
	}

	health := monitoring.NewHealthChecker(log)
	health.AddWorkerCheck(pool.Counts, 10*time.Second)
	health.AddInviteStoreCheck(inviteStore, 30*time.Second, 2*time.Second)
	if repoFactory.UsingRedis() {
		health.AddRedisCheck(repoFactory.RedisClient(), 15*time.Second, 2*time.Second)
	}
	if breakerStats != nil {
		health.AddCircuitBreakerCheck("identity", breakerStats, 10*time.Second)
	}
	health.StartBackgroundChecks(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.AccessTokenMiddleware(),
		middleware.TracingMiddleware(),
		middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)
	httphandlers.NewOpsHandler(health, pool.Snapshot, gatherer).SetupRoutes(router)
	httphandlers.NewRoomHandler(ctrl).SetupRoutes(router)

	ws := signal.NewWebSocketServer(ctrl, hub, signal.OptionsFromConfig(cfg), log, wsMetrics)

	restSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	// No read/write timeouts: websocket connections are long-lived.
	signalSrv := &http.Server{
		Addr:              cfg.Signal.Address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		log.Infow("starting server", "server", name, "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("rest", restSrv)
	go serve("signal", signalSrv)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}
	stop()

	log.Info("shutting down sfucore...")
	heartbeat.Stop()

	shutdown(log, "rest", restSrv, cfg.Server.ShutdownTimeout)
	shutdown(log, "signal", signalSrv, cfg.Signal.ShutdownTimeout)

	dir.CloseAll()
	if bus != nil {
		bus.Close()
	}
	pool.Close()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(flushCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}

	log.Info("sfucore stopped")
}

func shutdown(log *zap.SugaredLogger, name string, srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("error during server shutdown", "server", name, "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "server", name, "error", closeErr)
		}
		return
	}
	log.Infow("server shutdown gracefully", "server", name)
}

// loadConfig tries SFUCORE_CONFIG and then the conventional paths, falling
// back to defaults when no file exists.
func loadConfig() (*config.Config, string, error) {
	configPaths := []string{
		os.Getenv("SFUCORE_CONFIG"),
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/sfucore/config.yaml",
		"config.yaml",
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}

	cfg, err := config.Load("")
	return cfg, "defaults", err
}
