package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	httpapi "github.com/i474232898/weather-publisher/internal/api/http"
	"github.com/i474232898/weather-publisher/internal/config"
	"github.com/i474232898/weather-publisher/internal/logging"
	"github.com/i474232898/weather-publisher/internal/metrics"
	"github.com/i474232898/weather-publisher/internal/queue"
	"github.com/i474232898/weather-publisher/internal/retry"
	"github.com/i474232898/weather-publisher/internal/scheduler"
	"github.com/i474232898/weather-publisher/internal/store"
	"github.com/i474232898/weather-publisher/internal/weather"
	"github.com/i474232898/weather-publisher/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	executor, err := retry.NewExecutor(cfg.RetryDelays,
		retry.WithLogger(logging.Component(logger, "retry")),
		retry.WithRetryHook(collector.Retried),
	)
	if err != nil {
		logger.Fatalf("invalid retry schedule: %v", err)
	}

	// Every publish and DLQ send dials its own connection.
	dialer := queue.NewAMQPDialer(cfg.RabbitMQURI, cfg.BrokerTimeout)
	publisher := queue.NewPublisher(dialer, cfg.Topology(), cfg.BrokerTimeout, logging.Component(logger, "publisher"))
	router := queue.NewDLQRouter(publisher, logging.Component(logger, "dlq"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Argument mismatches are configuration errors; fail before doing any work.
	if err := publisher.EnsureTopology(ctx); err != nil {
		if errors.Is(err, queue.ErrTopologyMismatch) {
			logger.WithError(err).Fatal("queue topology does not match broker state")
		}
		logger.WithError(err).Warn("could not verify queue topology at startup")
	}

	// Shared HTTP client for outbound weather-api calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}
	source := providers.NewAPISource(httpClient, cfg.WeatherAPIURL, providers.WithRetrySchedule(cfg.RetryDelays))

	pipeline := weather.NewPipeline(source, publisher, router, executor, cfg.MainQueue, logging.Component(logger, "pipeline"))
	worker := weather.NewWorker(source, pipeline, executor, collector, logging.Component(logger, "worker"))

	if !cfg.Periodic() {
		worker.RunOnce(ctx)
		return
	}

	runPeriodic(ctx, cfg, worker, registry, logger)
}

// runPeriodic schedules passes and serves status endpoints until ctx ends.
func runPeriodic(ctx context.Context, cfg *config.AppConfig, worker *weather.Worker, registry *prometheus.Registry, logger *logrus.Logger) {
	history := store.NewMemoryStore(cfg.RunHistory, cfg.RunHistoryMaxAge)

	sched := scheduler.New(cfg.RunInterval, worker, history, logging.Component(logger, "scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               queue.AppID,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": queue.AppID,
		})
	})
	httpapi.RegisterRoutes(app, history, registry)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.WithError(err).Error("status server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).Error("error during shutdown")
	}
}
