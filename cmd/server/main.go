// Command server starts the text-processing HTTP ingress.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/mikev9/text-processing/internal/adapter/httpserver"
	"github.com/mikev9/text-processing/internal/adapter/observability"
	"github.com/mikev9/text-processing/internal/adapter/queue/rabbitmq"
	"github.com/mikev9/text-processing/internal/adapter/repo/postgres"
	"github.com/mikev9/text-processing/internal/app"
	"github.com/mikev9/text-processing/internal/config"
	"github.com/mikev9/text-processing/internal/usecase"
)

// defaultEnvFile is loaded when present and ENV_FILE is not set.
const defaultEnvFile = ".env.web_api"

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		if _, err := os.Stat(defaultEnvFile); err == nil {
			envFile = defaultEnvFile
		}
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.AppName == "" {
		cfg.AppName = "web_api"
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL, cfg.DBEngineEcho)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	taskRepo := postgres.NewTaskRepo(pool)

	producer := rabbitmq.NewProducer(rabbitmq.ProducerConfig{
		URL: cfg.BrokerURL(),
		Topology: rabbitmq.Topology{
			Exchange:   cfg.RabbitMQExchange,
			Queue:      cfg.RabbitMQQueue,
			RoutingKey: cfg.RabbitMQRoutingKey,
		},
		Persistent:        cfg.ProducerPersistent,
		PublisherConfirms: cfg.ProducerPublisherConfirms,
		AppName:           cfg.AppName,
	}, logger)
	if err := producer.Startup(); err != nil {
		slog.Error("producer startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Shutdown(); err != nil {
			slog.Error("producer shutdown failed", slog.Any("error", err))
		}
	}()

	processSvc := usecase.NewProcessTextService(taskRepo, producer)
	resultSvc := usecase.NewResultService(taskRepo)

	srv := httpserver.NewServer(cfg, processSvc, resultSvc, pool.Ping)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebAPIHost, cfg.WebAPIPort),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.String("addr", srvHTTP.Addr))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
