package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/jobprogress/internal/archive"
	"github.com/cuongbtq/jobprogress/internal/backend"
	"github.com/cuongbtq/jobprogress/internal/config"
	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/maintenance"
	"github.com/cuongbtq/jobprogress/internal/worker"
	"github.com/cuongbtq/jobprogress/shared/logger"
	"github.com/cuongbtq/jobprogress/shared/postgresql"
	"github.com/cuongbtq/jobprogress/shared/rabbitmq"
	"github.com/cuongbtq/jobprogress/shared/redis"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	session, err := initSession(redisClient, &cfg.Progress, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize progress store: %w", err)
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeperCfg := &maintenance.SweeperConfig{
		Logger:          appLogger.Logger,
		Session:         session,
		StaleInterval:   cfg.Maintenance.StaleInterval,
		CleanupInterval: cfg.Maintenance.CleanupInterval,
		Retention:       cfg.Maintenance.Retention,
		SweepTimeout:    cfg.Maintenance.SweepTimeout,
	}

	if cfg.Maintenance.Archive {
		dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		store := archive.NewStore(dbClient.GetDB(), appLogger.Logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare archive schema: %w", err)
		}
		sweeperCfg.Archiver = store

		appLogger.Info("Database connection established, archiving enabled")
	}

	sweeper := maintenance.NewSweeper(sweeperCfg)
	sweeper.Start(ctx)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Session:       session,
		Source:        rabbitClient,
		Concurrency:   cfg.Worker.Concurrency,
		ReportTimeout: cfg.Worker.ReportTimeout,
	})

	// Start only returns early when the consumer fails or its channel closes
	errChan := make(chan error, 1)
	go func() {
		errChan <- workerInstance.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Duration("stale_interval", cfg.Maintenance.StaleInterval),
		slog.Duration("cleanup_interval", cfg.Maintenance.CleanupInterval),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		if runErr == nil {
			runErr = errors.New("report consumer stopped")
		}
		appLogger.Error("Worker error", slog.Any("error", runErr))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   cfg.TimeFormat,
	})
}

// initRedis connects to the Redis server holding job progress
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// initSession builds the progress backend and the job session over it
func initSession(client *redis.Client, cfg *config.ProgressConfig, logger *slog.Logger) (*jobprogress.Session, error) {
	b, err := backend.New(client.GetClient(), backend.Config{
		KeyPrefix:           cfg.KeyPrefix,
		HeartbeatExpiration: cfg.HeartbeatExpiration,
		RestrictedProxy:     cfg.IsRestrictedProxy(),
	}, backend.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return jobprogress.NewSession(b, jobprogress.WithLogger(logger)), nil
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		QueueName:         cfg.Queue.Name,
		RoutingKey:        cfg.RoutingKey,
		ExchangeDurable:   cfg.Exchange.Durable,
		QueueDurable:      cfg.Queue.Durable,
		PrefetchCount:     cfg.Consumer.PrefetchCount,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}, logger)
}
