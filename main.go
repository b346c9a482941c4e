// main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expert-booking/cmd"
	"expert-booking/internal/data/repository"
	"expert-booking/internal/jobs"
	"expert-booking/internal/usecase"
	"expert-booking/internal/wire"
	"expert-booking/pkg/database"
	"expert-booking/pkg/mq"
	"expert-booking/pkg/obs"
	"expert-booking/pkg/payment"
	"expert-booking/pkg/redis"
	"expert-booking/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App.LogPath, config.App.Debug)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
		zap.String("timezone", config.Booking.Location.String()),
	)

	shutdownTracer, err := obs.InitTracer(ctx, config.Tracing, config.App.Name, logger)
	if err != nil {
		logger.Fatal("Failed to init tracer", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	if err := database.RunMigrations(database.DSN(config.Database), logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize all repositories
	repos := repository.NewRepository(db, logger)

	deps := usecase.Dependencies{
		Repo:    repos,
		Config:  config,
		Gateway: payment.NewStripeGateway(config.Payment, logger),
	}

	if config.Redis.Addr != "" {
		rdb, err := redis.NewClient(config.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		deps.Deduper = rdb
	} else {
		logger.Warn("REDIS_ADDR not set, webhook events are applied without de-duplication")
	}

	if config.RabbitMQ.URL != "" {
		publisher, err := mq.NewPublisher(config.RabbitMQ.URL, config.RabbitMQ.Exchange)
		if err != nil {
			logger.Fatal("Failed to connect to rabbitmq", zap.Error(err))
		}
		defer publisher.Close()
		deps.Publisher = publisher
	} else {
		logger.Warn("RABBITMQ_URL not set, booking notifications are disabled")
	}

	service := usecase.NewService(deps, logger)

	// Periodic sweeps
	scheduler, err := jobs.NewScheduler(ctx, service.Capture, service.Booking, config.Jobs, config.Booking.Location, logger)
	if err != nil {
		logger.Fatal("Failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	// Wire all dependencies
	app := wire.Wiring(service, db, config, logger)

	// Start server
	logger.Info("Starting HTTP server", zap.String("port", config.App.Port))

	if err := cmd.APIServer(ctx, app.Router, config.App.Port, logger); err != nil {
		logger.Error("HTTP server stopped", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
