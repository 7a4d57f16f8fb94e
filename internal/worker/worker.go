// Package worker consumes unit progress reports from RabbitMQ and applies
// them to jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/jobprogress/internal/jobprogress"
	"github.com/cuongbtq/jobprogress/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource starts a consumer on the report queue
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Session       *jobprogress.Session
	Source        DeliverySource
	Concurrency   int
	ReportTimeout time.Duration
	WorkerID      string
}

// Worker applies progress reports using a pool of goroutines
type Worker struct {
	logger        *slog.Logger
	session       *jobprogress.Session
	source        DeliverySource
	concurrency   int
	reportTimeout time.Duration
	workerID      string

	jobsChan chan *domain.ReportMessage
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	concurrency := max(cfg.Concurrency, 1)

	return &Worker{
		logger:        cfg.Logger,
		session:       cfg.Session,
		source:        cfg.Source,
		concurrency:   concurrency,
		reportTimeout: cfg.ReportTimeout,
		workerID:      workerID,
		jobsChan:      make(chan *domain.ReportMessage, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start subscribes to the report queue and processes reports until ctx is
// canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("report_timeout", w.reportTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	// dispatcher returned: no more reports will be queued
	close(w.jobsChan)
	return nil
}

// Stop gracefully stops the worker and waits for in-flight reports
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}
