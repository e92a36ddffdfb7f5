package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ayo6706/marketplace-ledger/internal/domain"
	"github.com/ayo6706/marketplace-ledger/internal/messaging"
	"github.com/ayo6706/marketplace-ledger/internal/observability"
	"github.com/ayo6706/marketplace-ledger/internal/service"
	"go.uber.org/zap"
)

// OrderEventHandler applies one encoded order event.
type OrderEventHandler interface {
	Handle(ctx context.Context, payload []byte) (service.OrderEventResult, error)
}

// BindingConsumer is satisfied by messaging.Consumer.
type BindingConsumer interface {
	ConsumeWithBindings(ctx context.Context, bindings map[string]messaging.HandlerFunc) error
	Close()
}

// connectionReporter is implemented by consumers that can tell whether
// their broker connection is open.
type connectionReporter interface {
	Connected() bool
}

const (
	defaultRetryBase = time.Second
	defaultRetryMax  = 30 * time.Second
)

// OrderEventConsumer feeds order_events deliveries into the ledger. When the
// broker drops the channel it reconnects with exponential backoff until ctx
// ends.
type OrderEventConsumer struct {
	consumer  BindingConsumer
	handler   OrderEventHandler
	retryBase time.Duration
	retryMax  time.Duration
	consuming atomic.Bool
}

func NewOrderEventConsumer(consumer BindingConsumer, handler OrderEventHandler) *OrderEventConsumer {
	return &OrderEventConsumer{
		consumer:  consumer,
		handler:   handler,
		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
	}
}

// WithRetryBackoff sets the first and the longest wait between reconnects.
func (c *OrderEventConsumer) WithRetryBackoff(base, longest time.Duration) *OrderEventConsumer {
	if base > 0 {
		c.retryBase = base
	}
	if longest >= c.retryBase {
		c.retryMax = longest
	}
	return c
}

// Healthy reports whether the consumer is attached to the broker. It is
// false while reconnecting.
func (c *OrderEventConsumer) Healthy() bool {
	if !c.consuming.Load() {
		return false
	}
	if r, ok := c.consumer.(connectionReporter); ok {
		return r.Connected()
	}
	return true
}

// Bindings maps each consumed routing key to the shared handler.
func (c *OrderEventConsumer) Bindings() map[string]messaging.HandlerFunc {
	return map[string]messaging.HandlerFunc{
		domain.OrderEventDelivered:            c.handle,
		domain.OrderEventInspectionApproved:   c.handle,
		domain.OrderEventPaymentStatusChanged: c.handle,
	}
}

// handle acks on success and on permanent errors. Transient errors are
// requeued.
func (c *OrderEventConsumer) handle(ctx context.Context, body []byte) bool {
	res, err := c.handler.Handle(ctx, body)
	if err == nil {
		observability.IncrementOrderEvent("amqp", res.Type, res.Outcome)
		return true
	}
	if domain.IsPermanent(err) {
		observability.IncrementOrderEvent("amqp", res.Type, "rejected")
		zap.L().Error("dropping order event after permanent failure",
			zap.String("event_id", res.EventID),
			zap.String("type", res.Type),
			zap.Error(err),
		)
		return true
	}
	observability.IncrementOrderEvent("amqp", res.Type, "retry")
	zap.L().Warn("order event failed, will retry",
		zap.String("event_id", res.EventID),
		zap.String("type", res.Type),
		zap.Error(err),
	)
	return false
}

// Start blocks consuming until ctx is canceled, reconnecting whenever the
// consumer returns early.
func (c *OrderEventConsumer) Start(ctx context.Context) {
	zap.L().Info("order event consumer starting")
	attempt := 0
	for {
		began := time.Now()
		c.consuming.Store(true)
		err := c.consumer.ConsumeWithBindings(ctx, c.Bindings())
		c.consuming.Store(false)
		if ctx.Err() != nil {
			return
		}
		if err == nil || errors.Is(err, context.Canceled) {
			err = errors.New("consumer returned while running")
		}

		// A session that stayed up longer than the longest wait starts the
		// backoff over.
		if time.Since(began) > c.retryMax {
			attempt = 0
		}
		wait := c.backoff(attempt)
		attempt++
		observability.IncrementWorkerRun("order_event_consumer", "reconnect")
		zap.L().Warn("order event consumer disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *OrderEventConsumer) backoff(attempt int) time.Duration {
	wait := c.retryBase
	for i := 0; i < attempt && wait < c.retryMax; i++ {
		wait *= 2
	}
	if wait > c.retryMax {
		wait = c.retryMax
	}
	return wait
}

// Run starts the consumer in a goroutine and returns a stop function.
func (c *OrderEventConsumer) Run(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(ctx)
	}()
	return func() {
		cancel()
		<-done
		c.consumer.Close()
	}
}
