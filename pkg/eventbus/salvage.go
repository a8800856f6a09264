package eventbus

import (
	"context"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	salvageMinInterval = 1 * time.Second
	salvageMaxInterval = 30 * time.Second
	salvageBatchSize   = 10
)

// salvageLoop drains the unroutable queue (messages that matched no
// binding and fell through the alternate exchange) and republishes them
// onto the main exchange under their original routing key, tagged with an
// incremented retry count so they still respect MaxRetries overall. The
// poll interval adapts: it tightens to salvageMinInterval while messages
// are being found and backs off toward salvageMaxInterval when the queue
// is empty, so an idle system isn't polled aggressively.
func (b *Bus) salvageLoop(ctx context.Context) {
	defer close(b.salvageDone)
	interval := salvageMinInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.shuttingDown.Load() {
				return
			}
			found := b.salvageBatch(ctx)
			interval = nextSalvageInterval(interval, found)
			ticker.Reset(interval)
		}
	}
}

func nextSalvageInterval(current time.Duration, found int) time.Duration {
	if found > 0 {
		return salvageMinInterval
	}
	next := current * 2
	if next > salvageMaxInterval {
		next = salvageMaxInterval
	}
	return next
}

// salvageBatch pulls up to salvageBatchSize messages and returns how many
// were found (regardless of whether republish succeeded, since a failed
// republish is naked and simply requeued for the next pass).
func (b *Bus) salvageBatch(ctx context.Context) int {
	b.mu.Lock()
	ch, initialized := b.ch, b.initialized
	b.mu.Unlock()
	if !initialized {
		return 0
	}

	found := 0
	for i := 0; i < salvageBatchSize; i++ {
		d, ok, err := ch.Get(b.cfg.UnroutableQueueName(), false)
		if err != nil {
			log.Printf("eventbus: salvage Get failed: %v", err)
			return found
		}
		if !ok {
			return found
		}
		found++
		b.salvageOne(ctx, d)
	}
	return found
}

func (b *Bus) salvageOne(ctx context.Context, d amqp.Delivery) {
	retryCount := headerRetryCount(d.Headers) + 1
	if retryCount > MaxRetries {
		log.Printf("eventbus: salvaged message on %s exhausted retries, dropping to dlx", d.RoutingKey)
		_ = d.Nack(false, false)
		return
	}

	if err := b.republish(ctx, d.RoutingKey, d.Body, int32(retryCount), amqp.Table{"x-salvaged": true}); err != nil {
		log.Printf("eventbus: salvage republish failed for %s, leaving in unroutable queue: %v", d.RoutingKey, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
