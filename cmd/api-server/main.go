package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinical-scheduling/internal/api"
	"github.com/hackgods/clinical-scheduling/internal/appointment"
	"github.com/hackgods/clinical-scheduling/internal/audit"
	"github.com/hackgods/clinical-scheduling/internal/config"
	"github.com/hackgods/clinical-scheduling/internal/db"
	"github.com/hackgods/clinical-scheduling/internal/logging"
	"github.com/hackgods/clinical-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinical-scheduling/internal/redis"
	"github.com/hackgods/clinical-scheduling/internal/tenancy"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("version", version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)

	var (
		pgPool *pgxpool.Pool
		repo   appointment.Repository
		sink   audit.Sink
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		repo = appointment.NewMemoryRepository()
		sink = audit.NewMemorySink()
		logger.Warn().Msg("using in-memory storage; data is lost on exit")
	default:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg)
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool)
		sink = audit.NewPgStore(pgPool)
	}

	auditor := audit.NewAuditor(sink, logger, m, audit.Options{
		BufferSize:   cfg.AuditBufferSize,
		WriteTimeout: cfg.AuditWriteTimeout,
	})

	svc := appointment.NewService(repo, auditor, cfg, logger).WithMetrics(m)

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		svc.WithIdempotency(redisclient.NewIdempotencyStore(rdb, cfg.IdempotencyTTL))
		logger.Info().Msg("connected to Redis; idempotency keys enabled")
	}

	srv := &http.Server{
		Addr: net.JoinHostPort("", cfg.HTTPPort),
		Handler: api.NewRouter(api.RouterConfig{
			Service:        svc,
			PgPool:         pgPool,
			Redis:          rdb,
			Tenancy:        tenancy.HeaderProvider{},
			Gatherer:       reg,
			Logger:         logger,
			Env:            cfg.Env,
			Version:        version,
			RequestTimeout: cfg.RequestTimeout,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdown(logger, srv, auditor, cfg.ShutdownTimeout)
}

func shutdown(logger zerolog.Logger, srv *http.Server, auditor *audit.Auditor, timeout time.Duration) {
	logger.Info().Msg("shutting down api-server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
	if err := auditor.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("audit queue not fully drained")
	}
}
