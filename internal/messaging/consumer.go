package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HandlerFunc processes one delivery. Returning false requeues it.
type HandlerFunc func(ctx context.Context, body []byte) bool

// ErrDeliveriesClosed is returned when the broker closes the channel under
// a running consumer.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Consumer reads from a durable queue bound to a topic exchange. A closed
// connection or channel is redialed on the next ConsumeWithBindings call.
type Consumer struct {
	url      string
	exchange string
	queue    string
	prefetch int

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL, exchange, queue string, prefetch int) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	c := &Consumer{url: cleanURL, exchange: exchange, queue: queue, prefetch: prefetch}
	if _, err := c.channel(); err != nil {
		return nil, err
	}
	return c, nil
}

// channel returns the open channel, dialing again if the broker dropped the
// previous connection or channel.
func (c *Consumer) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	c.closeLocked()

	conn, err := amqp.DialConfig(c.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	c.conn, c.ch = conn, ch
	return ch, nil
}

// Connected reports whether the connection and channel are both open.
func (c *Consumer) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// ConsumeWithBindings binds one routing key per handler and dispatches
// deliveries until ctx is cancelled or the channel closes, in which case it
// returns ErrDeliveriesClosed. Deliveries with no handler are acked and
// dropped.
func (c *Consumer) ConsumeWithBindings(ctx context.Context, bindings map[string]HandlerFunc) error {
	if len(bindings) == 0 {
		return errors.New("no bindings provided")
	}
	ch, err := c.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	for routingKey := range bindings {
		if err := ch.QueueBind(q.Name, routingKey, c.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, c.exchange, err)
		}
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.dispatch(ctx, bindings, d)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, bindings map[string]HandlerFunc, d amqp.Delivery) {
	handler, ok := bindings[d.RoutingKey]
	if !ok {
		zap.L().Warn("no handler for routing key, dropping", zap.String("routing_key", d.RoutingKey))
		_ = d.Ack(false)
		return
	}
	if handler(ctx, d.Body) {
		if err := d.Ack(false); err != nil {
			zap.L().Warn("ack failed", zap.String("routing_key", d.RoutingKey), zap.Error(err))
		}
		return
	}
	zap.L().Warn("handler failed, requeueing", zap.String("routing_key", d.RoutingKey))
	if err := d.Nack(false, true); err != nil {
		zap.L().Warn("nack failed", zap.String("routing_key", d.RoutingKey), zap.Error(err))
	}
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Consumer) closeLocked() {
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
