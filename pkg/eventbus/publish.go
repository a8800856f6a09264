package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

// Publish routes event through the main exchange using its EventType as the
// routing key. Publishing is mandatory: a message with no matching binding
// is returned by the broker and redirected to the alternate exchange's
// unroutable queue rather than silently dropped. Back-pressure from the
// broker's flow-control state is honored by waiting (bounded by ctx) for
// the channel to unblock before publishing.
func (b *Bus) Publish(ctx context.Context, event eventstore.DomainEvent) error {
	ctx, span := b.tracer.Start(ctx, "eventbus.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("eventbus.event_type", event.EventType),
		attribute.String("eventbus.aggregate_id", event.AggregateID),
	)

	if err := b.waitForDrain(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	ch, initialized := b.ch, b.initialized
	b.mu.Unlock()
	if !initialized {
		return apperror.New(apperror.CodeEventStoreDown, "eventbus: not initialized", nil)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	headers := amqp.Table{
		"x-retry-count":   int32(0),
		"x-schema-version": int32(event.SchemaVersion),
		"x-correlation-id": event.CorrelationID(),
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s-%d", event.AggregateID, event.Version),
		Timestamp:    time.Now().UTC(),
		AppId:        b.cfg.ServiceName,
		Headers:      headers,
		Body:         body,
	}

	return ch.PublishWithContext(ctx, b.cfg.Exchange, event.EventType, true, false, pub)
}

// waitForDrain blocks while the broker reports us blocked by flow control,
// returning only when clear or ctx is done.
func (b *Bus) waitForDrain(ctx context.Context) error {
	if !b.flowBlocked.Load() {
		return nil
	}
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for b.flowBlocked.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// republish sends payload back onto the main exchange with routingKey,
// stamping retryCount into headers. Used both by the consumer's retry
// ladder (indirectly, via a retry queue with dead-letter-routing-key back
// to the main exchange) and by the unroutable salvager.
func (b *Bus) republish(ctx context.Context, routingKey string, body []byte, retryCount int32, extra amqp.Table) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()

	headers := amqp.Table{"x-retry-count": retryCount}
	for k, v := range extra {
		headers[k] = v
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		AppId:        b.cfg.ServiceName,
		Headers:      headers,
		Body:         body,
	}
	return ch.PublishWithContext(ctx, b.cfg.Exchange, routingKey, true, false, pub)
}

// publishToQueue sends directly to a named queue via the default exchange,
// used to place a message into a just-declared retry queue.
func (b *Bus) publishToQueue(ctx context.Context, queue string, pub amqp.Publishing) error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	return ch.PublishWithContext(ctx, "", queue, true, false, pub)
}
