// Command worker starts the task processor: it consumes task messages from
// the broker and writes analysis results to the store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikev9/text-processing/internal/adapter/observability"
	"github.com/mikev9/text-processing/internal/adapter/queue/rabbitmq"
	"github.com/mikev9/text-processing/internal/adapter/repo/postgres"
	"github.com/mikev9/text-processing/internal/config"
	"github.com/mikev9/text-processing/internal/usecase"
)

// defaultEnvFile is loaded when present and ENV_FILE is not set.
const defaultEnvFile = ".env.task_processor"

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
		cfg.AppName = "task_processor"
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

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
	analyze := usecase.NewAnalyzeService(taskRepo, logger)

	consumer := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL: cfg.BrokerURL(),
		Topology: rabbitmq.Topology{
			Exchange:   cfg.RabbitMQExchange,
			Queue:      cfg.RabbitMQQueue,
			RoutingKey: cfg.RabbitMQRoutingKey,
		},
		AppName:          cfg.AppName,
		WorkersNum:       cfg.WorkersNum(),
		PrefetchCount:    cfg.PrefetchCount(),
		MaxRedelivery:    cfg.ConsumerMaxRedelivery,
		GracefulShutdown: true,
	}, func(taskID string, body []byte) error {
		return analyze.Process(context.Background(), taskID, body)
	}, logger)

	if err := consumer.Startup(); err != nil {
		slog.Error("consumer startup failed", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("worker started, waiting for tasks")
	if err := consumer.Run(ctx); err != nil {
		slog.Error("consumer run failed", slog.Any("error", err))
		_ = consumer.Shutdown()
		os.Exit(1)
	}

	if err := consumer.Shutdown(); err != nil {
		slog.Error("consumer shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
