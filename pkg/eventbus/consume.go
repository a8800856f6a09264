package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"libranexus/pkg/eventstore"
)

// StartConsuming begins delivering messages from the service queue to
// registered handlers, and starts the unroutable-message salvager. It
// returns once the consumer goroutine is registered with the broker;
// delivery happens in the background until Shutdown.
func (b *Bus) StartConsuming(ctx context.Context) error {
	b.mu.Lock()
	ch, initialized := b.ch, b.initialized
	b.mu.Unlock()
	if !initialized {
		return fmt.Errorf("eventbus: StartConsuming called before Init")
	}

	deliveries, err := ch.Consume(b.cfg.QueueName(), b.cfg.ServiceName+"-consumer", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("eventbus: consume: %w", err)
	}

	go b.consumeLoop(ctx, deliveries)
	go b.salvageLoop(ctx)
	return nil
}

// consumeLoop implements the five-step delivery algorithm: parse, dispatch
// to handlers (specific ∪ wildcard), ack on success, and on failure either
// route to a TTL retry queue (attempt <= MaxRetries) or let the message
// dead-letter via Nack(requeue=false).
func (b *Bus) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(b.consumeDone)
	for d := range deliveries {
		b.handleDelivery(ctx, d)
	}
}

func (b *Bus) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ctx, span := b.tracer.Start(ctx, "eventbus.consume")
	defer span.End()

	var event eventstore.DomainEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.Printf("eventbus: malformed payload on %s, dead-lettering: %v", d.RoutingKey, err)
		_ = d.Nack(false, false)
		return
	}
	event = b.upcast(event)

	handlers := b.handlersFor(event.EventType)
	var runErr error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil {
		_ = d.Ack(false)
		return
	}

	retryCount := headerRetryCount(d.Headers)
	nextAttempt := retryCount + 1
	if nextAttempt > MaxRetries {
		log.Printf("eventbus: %s on %s exhausted %d retries, dead-lettering: %v", event.EventType, d.RoutingKey, MaxRetries, runErr)
		_ = d.Nack(false, false)
		return
	}

	if err := b.scheduleRetry(ctx, d, nextAttempt, runErr); err != nil {
		log.Printf("eventbus: failed to schedule retry %d for %s, dead-lettering: %v", nextAttempt, event.EventType, err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// scheduleRetry declares (lazily, idempotently) the attempt-numbered TTL
// queue, whose expiry dead-letters back into the main exchange bound to
// the original routing key, and publishes the original body directly into
// that queue. Delay follows 1000*2^(attempt-1) ms. reason is the handler
// error that triggered this retry, stamped onto the republished message as
// x-last-retry-reason.
func (b *Bus) scheduleRetry(ctx context.Context, d amqp.Delivery, attempt int, reason error) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	delayMs := int64(1000 * (1 << uint(attempt-1)))
	queue := b.cfg.RetryQueueName(attempt)

	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    b.cfg.Exchange,
		"x-dead-letter-routing-key": d.RoutingKey,
		"x-message-ttl":             delayMs,
		"x-expires":                 delayMs + 60_000,
	})
	if err != nil {
		return fmt.Errorf("declare retry queue %s: %w", queue, err)
	}

	return b.publishToQueue(ctx, queue, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		AppId:        b.cfg.ServiceName,
		Headers:      retryHeaders(d.Headers, attempt, reason),
		Body:         d.Body,
	})
}

// retryHeaders copies the delivery's existing headers forward, bumps
// x-retry-count to attempt, and stamps x-last-retry-reason with the
// handler error that triggered this retry.
func retryHeaders(existing amqp.Table, attempt int, reason error) amqp.Table {
	headers := amqp.Table{}
	for k, v := range existing {
		headers[k] = v
	}
	headers["x-retry-count"] = int32(attempt)
	if reason != nil {
		headers["x-last-retry-reason"] = reason.Error()
	}
	return headers
}

func headerRetryCount(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch v := h["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
