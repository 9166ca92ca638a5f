package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/audit"
	"github.com/MrEthical07/authgate/httpapi"
	"github.com/MrEthical07/authgate/internal/config"
	"github.com/MrEthical07/authgate/internal/telemetry"
	otelexport "github.com/MrEthical07/authgate/metrics/export/otel"
	"github.com/MrEthical07/authgate/notify"
	"github.com/MrEthical07/authgate/sqlstore"
)

const serviceName = "authgate"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("authgate exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := cfg.Gateway()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	db, err := sqlstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close audit sink", "error", err)
			}
		}
	}()

	sinks := []audit.Sink{sqlstore.NewAuditStore(db)}
	if cfg.AuditLogPath != "" {
		fs := audit.NewRotatingFileSink(cfg.AuditLogPath, audit.DefaultRotation())
		sinks = append(sinks, fs)
		closers = append(closers, fs)
	}
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		ks := audit.NewKafkaSink(brokers, cfg.AuditKafkaTopic)
		sinks = append(sinks, ks)
		closers = append(closers, ks)
	}

	builder := authgate.New()
	if brokers := cfg.ResetBrokers(); len(brokers) > 0 {
		rn := notify.NewKafkaNotifier(brokers, cfg.ResetKafkaTopic)
		builder = builder.WithResetNotifier(rn)
		closers = append(closers, rn)
	} else {
		logger.Info("password reset disabled: RESET_KAFKA_BROKERS not set")
	}

	engine, err := builder.
		WithConfig(gw).
		WithRedis(rdb).
		WithUserRepository(sqlstore.NewUserStore(db)).
		WithAuditSink(audit.NewMultiSink(sinks...).WithFallback(audit.NewSlogSink(logger))).
		WithAuditFallback(audit.NewSlogSink(logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	provider, err := telemetry.NewProvider(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	otelExp, err := otelexport.NewExporter(provider.MeterProvider.Meter("github.com/MrEthical07/authgate"), engine)
	if err != nil {
		return err
	}
	defer otelExp.Close()

	go engine.RunSweeper(ctx)

	api := httpapi.New(engine, httpapi.Options{
		TrustProxy:        cfg.TrustProxy,
		TrustedProxyCount: cfg.TrustedProxyCount,
		Logger:            logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authgate listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
