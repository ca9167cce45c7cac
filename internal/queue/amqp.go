package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zeromicro/go-zero/core/logx"
)

const redialBackoffCap = 30 * time.Second

// AmqpBus is the RabbitMQ-backed Bus. All queues are declared durable on
// connect, publishes use persistent delivery, and each consumer runs on its
// own channel with manual acks. A lost connection is redialed with capped
// exponential backoff; consumers resume on the new connection.
type AmqpBus struct {
	url string

	mu     sync.Mutex
	conn   *amqp.Connection
	pub    *amqp.Channel
	closed bool
}

var _ Bus = (*AmqpBus)(nil)

// DialAmqp connects to the broker and declares the queue topology.
func DialAmqp(url string) (*AmqpBus, error) {
	b := &AmqpBus{url: url}
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

// connectLocked assumes b.mu is held or the bus is not yet shared.
func (b *AmqpBus) connectLocked() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("amqp dial %s: %w", b.url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp open channel: %w", err)
	}
	for _, name := range AllQueues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("amqp declare %s: %w", name, err)
		}
	}
	b.conn = conn
	b.pub = ch
	return nil
}

func (b *AmqpBus) publishChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("amqp bus is closed")
	}
	if b.conn == nil || b.conn.IsClosed() {
		if err := b.connectLocked(); err != nil {
			return nil, err
		}
	}
	return b.pub, nil
}

func (b *AmqpBus) dropConnection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
		b.pub = nil
	}
}

// Publish sends body to queue with persistent delivery.
func (b *AmqpBus) Publish(ctx context.Context, queue string, body []byte) error {
	return b.PublishWithHeaders(ctx, queue, body, nil)
}

// PublishWithHeaders publishes with headers attached. One reconnect attempt
// is made on a stale channel before the error surfaces.
func (b *AmqpBus) PublishWithHeaders(ctx context.Context, queue string, body []byte, headers map[string]any) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := b.publishChannel()
		if err != nil {
			return err
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		}
		if len(headers) > 0 {
			msg.Headers = amqp.Table(headers)
		}
		err = ch.PublishWithContext(ctx, "", queue, false, false, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		b.dropConnection()
	}
	return fmt.Errorf("amqp publish to %s: %w", queue, lastErr)
}

// Consume feeds queue deliveries to fn until ctx is cancelled. A handler
// error republishes the message with the retry header bumped and acks the
// original; once retries are exhausted the message is dead-lettered. Broker
// disconnects are survived by redialing and re-attaching the consumer.
func (b *AmqpBus) Consume(ctx context.Context, queue string, opts ConsumeOpts, fn HandlerFunc) error {
	opts = opts.withDefaults()
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.consumeOnce(ctx, queue, opts, fn)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		logx.Errorf("queue %s: consumer detached: %v (retrying in %s)", queue, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > redialBackoffCap {
			backoff = redialBackoffCap
		}
	}
}

func (b *AmqpBus) consumeOnce(ctx context.Context, queue string, opts ConsumeOpts, fn HandlerFunc) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("amqp bus is closed")
	}
	if b.conn == nil || b.conn.IsClosed() {
		if err := b.connectLocked(); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp consumer channel: %w", err)
	}
	defer ch.Close()
	if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			b.handleDelivery(ctx, queue, opts, fn, d)
		}
	}
}

func (b *AmqpBus) handleDelivery(ctx context.Context, queue string, opts ConsumeOpts, fn HandlerFunc, d amqp.Delivery) {
	headers := map[string]any(d.Headers)
	retries := retriesFrom(headers)
	err := fn(ctx, Delivery{Body: d.Body, Headers: headers, Retries: retries})
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logx.Errorf("queue %s: ack failed: %v", queue, ackErr)
		}
		return
	}

	if retries+1 >= opts.MaxRetries {
		logx.Errorf("queue %s: handler failed after %d attempts, dead-lettering: %v", queue, retries+1, err)
		if dlqErr := b.PublishWithHeaders(ctx, DLQ, d.Body, map[string]any{
			HeaderOrigin:  queue,
			HeaderReason:  err.Error(),
			HeaderRetries: retries + 1,
		}); dlqErr != nil {
			logx.Errorf("queue %s: dead-letter publish failed: %v", queue, dlqErr)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}

	logx.Infof("queue %s: handler failed (attempt %d/%d), republishing: %v", queue, retries+1, opts.MaxRetries, err)
	next := make(map[string]any, len(headers)+1)
	for k, v := range headers {
		next[k] = v
	}
	next[HeaderRetries] = retries + 1
	if pubErr := b.PublishWithHeaders(ctx, queue, d.Body, next); pubErr != nil {
		logx.Errorf("queue %s: retry publish failed: %v", queue, pubErr)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (b *AmqpBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		b.pub = nil
		return err
	}
	return nil
}
