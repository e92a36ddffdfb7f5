package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"go.uber.org/zap"
)

// Dispatcher relays a batch of outbox rows to the broker.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchSize int32) (int, error)
}

// OutboxWorker relays pending outbox events in the background.
// Safe for concurrent instances thanks to FOR UPDATE SKIP LOCKED.
type OutboxWorker struct {
	dispatcher   Dispatcher
	pollInterval time.Duration
	batchSize    int32
	stopCh       chan struct{}
	stopOnce     sync.Once
}

func NewOutboxWorker(dispatcher Dispatcher) *OutboxWorker {
	return &OutboxWorker{
		dispatcher:   dispatcher,
		pollInterval: 2 * time.Second,
		batchSize:    50,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *OutboxWorker) WithPollInterval(interval time.Duration) *OutboxWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *OutboxWorker) WithBatchSize(size int32) *OutboxWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start blocks until Stop is called or ctx is canceled.
func (w *OutboxWorker) Start(ctx context.Context) {
	zap.L().Info("outbox worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("outbox worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("outbox worker stop signal received")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *OutboxWorker) processBatch(ctx context.Context) {
	published, err := w.dispatcher.Dispatch(ctx, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("outbox", "failed")
		zap.L().Error("outbox dispatch failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("outbox", "success")
	if published > 0 {
		zap.L().Debug("outbox batch published", zap.Int("count", published))
	}
}

// ProcessOnce dispatches a single batch immediately.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	return w.dispatcher.Dispatch(ctx, w.batchSize)
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *OutboxWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *OutboxWorker) String() string {
	return fmt.Sprintf("OutboxWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
