package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rchs819/leela-zero-server/internal/admin"
	"github.com/rchs819/leela-zero-server/internal/alert"
	"github.com/rchs819/leela-zero-server/internal/api"
	"github.com/rchs819/leela-zero-server/internal/config"
	"github.com/rchs819/leela-zero-server/internal/dispatch"
	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/metrics"
	"github.com/rchs819/leela-zero-server/internal/promotion"
	"github.com/rchs819/leela-zero-server/internal/ratelimit"
	"github.com/rchs819/leela-zero-server/internal/scheduler"
	"github.com/rchs819/leela-zero-server/internal/sprt"
	"github.com/rchs819/leela-zero-server/internal/store"
	"github.com/rchs819/leela-zero-server/internal/store/files"
	"github.com/rchs819/leela-zero-server/internal/store/memory"
	"github.com/rchs819/leela-zero-server/internal/store/postgres"
	redisstore "github.com/rchs819/leela-zero-server/internal/store/redis"
	"github.com/rchs819/leela-zero-server/internal/tracing"
)

const (
	dbPoolStatsInterval = 15 * time.Second
	staleUploadAge      = time.Hour
	staleUploadSweep    = 30 * time.Minute
)

var (
	newStreamFactory = func(ctx context.Context, url string, maxLen int64) (redisstore.Bus, error) {
		return redisstore.NewStream(ctx, url, maxLen)
	}
	newInMemoryStreamFactory = func() redisstore.Bus { return redisstore.NewInMemoryStream() }
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         prometheus.Gauge
	inUse        prometheus.Gauge
	idle         prometheus.Gauge
	waitCount    prometheus.Gauge
	waitDuration prometheus.Gauge
}

func collectDBPoolStats(db dbStatsProvider, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.Set(float64(stats.OpenConnections))
	gauges.inUse.Set(float64(stats.InUse))
	gauges.idle.Set(float64(stats.Idle))
	gauges.waitCount.Set(float64(stats.WaitCount))
	gauges.waitDuration.Set(stats.WaitDuration.Seconds())
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, interval time.Duration, logger *slog.Logger) {
	if db == nil || interval <= 0 {
		return
	}

	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		if err := collectDBPoolStats(db, gauges); err != nil {
			logger.Warn("failed to collect initial db pool stats", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db, gauges); err != nil {
					logger.Warn("failed to collect db pool stats", "error", err)
				}
			}
		}
	}()
}

// resolveEventBus connects to Redis when a URL is configured and keeps events
// in process otherwise.
func resolveEventBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (redisstore.Bus, bool, error) {
	redisURL := strings.TrimSpace(cfg.Redis.URL)
	if redisURL == "" {
		return newInMemoryStreamFactory(), false, nil
	}

	bus, err := newStreamFactory(ctx, redisURL, cfg.Redis.MaxLen)
	if err != nil {
		return nil, true, fmt.Errorf("initialize redis event stream: %w", err)
	}
	if bus == nil {
		return nil, true, fmt.Errorf("initialize redis event stream: backend is nil")
	}

	logger.Info("redis event stream enabled", "stream", model.EventStream, "max_len", cfg.Redis.MaxLen)
	return bus, true, nil
}

// storeHandle is an opened store. close, stats and ready are nil for the
// in-process store.
type storeHandle struct {
	repos store.Repositories
	close func() error
	stats dbStatsProvider
	ready func(context.Context) error
}

const readyTimeout = 2 * time.Second

// openStore opens the repositories selected by cfg.DB.URL.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storeHandle, error) {
	if cfg.DB.URL == config.MemoryDBURL {
		logger.Warn("using in-memory store; data is lost on restart")
		return storeHandle{repos: memory.New().Repositories()}, nil
	}

	db, err := postgres.New(postgres.Config{
		URL:              cfg.DB.URL,
		MaxOpenConns:     cfg.DB.MaxOpenConns,
		MaxIdleConns:     cfg.DB.MaxIdleConns,
		ConnMaxLifetime:  cfg.DB.ConnMaxLifetime,
		StatementTimeout: cfg.DB.StatementTimeout,
		Logger:           logger,
	})
	if err != nil {
		return storeHandle{}, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return storeHandle{}, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("connected to database")

	return storeHandle{
		repos: store.Repositories{
			Networks: postgres.NewNetworkRepo(db),
			Matches:  postgres.NewMatchRepo(db),
			Games:    postgres.NewGameRepo(db),
		},
		close: db.Close,
		stats: db.DB,
		ready: func(ctx context.Context) error { return db.Ready(ctx, readyTimeout) },
	}, nil
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Channel
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func sprtConfig(cfg config.SPRTConfig) sprt.Config {
	return sprt.Config{Elo0: cfg.Elo0, Elo1: cfg.Elo1, Alpha: cfg.Alpha, Beta: cfg.Beta}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.Queue = scheduler.QueueConfig{
		Buffer:          cfg.Scheduler.QueueBuffer,
		PessimisticRate: cfg.Scheduler.PessimisticRate,
		RequestExpiry:   cfg.Scheduler.RequestExpiry,
		SPRT:            sprtConfig(cfg.SPRT),
	}
	sc.FastClientWindow = cfg.Scheduler.FastClientWindow
	sc.FastClientMinGames = cfg.Scheduler.FastClientMinGames
	sc.FastClientRefresh = cfg.Scheduler.FastClientRefresh
	sc.RebuildInterval = cfg.Scheduler.QueueRebuildInterval
	return sc
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	dc := dispatch.DefaultConfig()
	s := cfg.Scheduler
	dc.RequiredClientVersion = s.RequiredClientVersion
	dc.EngineVersion = s.EngineVersion
	dc.SelfPlay = model.Options{
		Visits:             s.SelfPlayVisits,
		ResignationPercent: s.SelfPlayResign,
		Noise:              s.SelfPlayNoise,
		RandomCount:        s.SelfPlayRandomCount,
	}
	dc.RelaxedResignRate = s.RelaxedResignRate
	dc.Match.Games = s.MatchDefaultGames
	dc.Match.Visits = s.MatchDefaultVisits
	dc.Match.Resignation = s.MatchDefaultResign
	dc.MaxRecordBytes = cfg.Server.MaxRecordBytes
	dc.RescanBatch = s.ArchitectureRescanBatch
	return dc
}

// workerRateRules keeps uploads and match requests well below the polling
// limit.
func workerRateRules() []ratelimit.Rule {
	return []ratelimit.Rule{
		{Method: http.MethodPost, Prefix: "/submit-network", RPS: 1.0 / 10, Burst: 3},
		{Method: http.MethodPost, Prefix: "/request-match", RPS: 1.0 / 10, Burst: 3},
	}
}

func adminRateRules() []ratelimit.Rule {
	return []ratelimit.Rule{
		{Method: http.MethodPost, Prefix: "/admin/v1/queue/rebuild", RPS: 1.0 / 30, Burst: 2},
		{Method: http.MethodPost, Prefix: "/admin/v1/networks/rescan", RPS: 1.0 / 300, Burst: 1},
	}
}

// adminMux serves the operator API next to the unauthenticated health and
// metrics endpoints.
func adminMux(adminHandler http.Handler, ready func(context.Context) error, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				logger.Warn("readiness check failed", "error", err)
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			logger.Warn("failed to write readiness response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/admin/", adminHandler)
	return mux
}

func runHTTPServer(ctx context.Context, name string, server *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("http server started", "server", name, "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func sweepStaleUploads(ctx context.Context, artifacts *files.Store, logger *slog.Logger) error {
	sweep := func() {
		removed, err := artifacts.CleanStale(staleUploadAge, time.Now())
		if err != nil {
			logger.Warn("stale upload sweep failed", "error", err)
			return
		}
		if removed > 0 {
			logger.Info("removed stale uploads", "count", removed)
		}
	}

	sweep()
	ticker := time.NewTicker(staleUploadSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep()
		}
	}
}

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting leela-zero-server",
		"http_addr", cfg.Server.Addr,
		"admin_addr", cfg.Server.AdminAddr,
		"network_dir", cfg.Storage.NetworkDir,
		"memory_store", cfg.DB.URL == config.MemoryDBURL,
		"redis_enabled", cfg.Redis.URL != "",
		"auth_key_set", cfg.Auth.Key != "",
	)
	if cfg.Auth.Key == "" {
		logger.Warn("AUTH_KEY is empty; network uploads, match requests and the admin API are disabled")
	}

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName:    "leela-zero-server",
		ServiceVersion: cfg.Scheduler.EngineVersion,
		Endpoint:       tracingEndpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	if st.close != nil {
		defer st.close()
	}
	repos := st.repos

	bus, _, err := resolveEventBus(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize event stream", "error", err, "redis_url", cfg.Redis.URL)
		os.Exit(1)
	}
	defer bus.Close()

	artifacts, err := files.New(cfg.Storage.NetworkDir, logger)
	if err != nil {
		logger.Error("failed to open network directory", "error", err, "dir", cfg.Storage.NetworkDir)
		os.Exit(1)
	}

	alerter := buildAlerter(cfg.Alert, logger)
	breaker := dispatch.NewStoreBreaker("store", cfg.DB.BreakerThreshold, cfg.DB.BreakerOpenTimeout, alerter, logger)
	sched := scheduler.New(schedulerConfig(cfg), repos.Matches, repos.Games, logger)
	promoter := promotion.NewPromoter(promotion.Config{
		SPRT:            sprtConfig(cfg.SPRT),
		FallbackWinRate: cfg.Promotion.FallbackWinRate,
	}, artifacts, bus, alerter, logger)
	notifier := promotion.NewNotifier(bus, alerter, logger)

	dispatcher := dispatch.New(dispatchConfig(cfg), dispatch.Deps{
		Repos:     repos,
		Artifacts: artifacts,
		Scheduler: sched,
		Promoter:  promoter,
		Bus:       bus,
		Breaker:   breaker,
	}, logger)

	workerLimiter := ratelimit.New("worker", workerRateRules(),
		ratelimit.Rule{RPS: cfg.Server.RateLimitRPS, Burst: cfg.Server.RateLimitBurst}, logger)
	defer workerLimiter.Stop()
	adminLimiter := ratelimit.New("admin", adminRateRules(), ratelimit.Rule{RPS: 5, Burst: 20}, logger)
	defer adminLimiter.Stop()

	workerAPI := api.NewServer(api.Config{
		Key:               cfg.Auth.Key,
		UploadIdleTimeout: cfg.Server.UploadIdleTimeout,
		MaxNetworkBytes:   cfg.Server.MaxNetworkBytes,
		MaxRecordBytes:    cfg.Server.MaxRecordBytes,
	}, dispatcher, logger,
		api.WithRateLimit(workerLimiter),
		api.WithTrustedProxies(cfg.Server.TrustedProxies),
	)

	adminAPI := admin.NewServer(cfg.Auth.Key, logger,
		admin.WithScheduler(sched),
		admin.WithOperator(dispatcher),
	)
	adminHandler := api.Instrument("admin", ratelimit.TrustedProxies(cfg.Server.TrustedProxies).Wrap(
		adminLimiter.Wrap(admin.AuditMiddleware(logger, adminAPI.Handler()))))

	// Uploads are bounded by the idle deadline that the handler pushes
	// forward, not by a fixed read timeout.
	workerServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           workerAPI.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	adminServer := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           adminMux(adminHandler, st.ready, logger),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, "worker", workerServer, cfg.Server.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		return runHTTPServer(gCtx, "admin", adminServer, cfg.Server.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		return sched.Run(gCtx)
	})
	g.Go(func() error {
		return notifier.Run(gCtx)
	})
	g.Go(func() error {
		return sweepStaleUploads(gCtx, artifacts, logger)
	})

	startDBPoolStatsPump(gCtx, st.stats, dbPoolStatsInterval, logger)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shut down gracefully")
}
