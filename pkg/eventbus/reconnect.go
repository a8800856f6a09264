package eventbus

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// OnFatal overrides the default fail-fast behavior (log + os.Exit(1))
// reached after ReconnectFailureLimit consecutive reconnection failures.
// Tests substitute a channel-signaling stub.
func (b *Bus) OnFatal(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFatal = fn
}

// watchClose reacts to the channel closing unexpectedly (broker restart,
// network blip) by reconnecting with exponential backoff, capped at 30s,
// and failing fast after ReconnectFailureLimit consecutive attempts.
func (b *Bus) watchClose(notify <-chan *amqp.Error) {
	reason, ok := <-notify
	if !ok || b.shuttingDown.Load() {
		return
	}
	log.Printf("eventbus: channel closed unexpectedly: %v", reason)

	b.mu.Lock()
	b.initialized = false
	b.mu.Unlock()

	b.reconnectLoop()
}

func (b *Bus) reconnectLoop() {
	for {
		if b.shuttingDown.Load() {
			return
		}

		attempt := int(b.reconnectCount.Add(1))
		if attempt > ReconnectFailureLimit {
			err := fmt.Errorf("eventbus: exceeded %d consecutive reconnect failures", ReconnectFailureLimit)
			b.fail(err)
			return
		}

		delay := reconnectBackoff(attempt)
		log.Printf("eventbus: reconnect attempt %d in %s", attempt, delay)
		time.Sleep(delay)

		if err := b.reconnect(); err != nil {
			log.Printf("eventbus: reconnect attempt %d failed: %v", attempt, err)
			continue
		}

		log.Printf("eventbus: reconnected after %d attempt(s)", attempt)
		b.reconnectCount.Store(0)
		return
	}
}

// reconnectBackoff is exponential with jitter, capped at 30s:
// min(30s, 2^attempt * 1000ms) +/- up to 20% jitter.
func reconnectBackoff(attempt int) time.Duration {
	base := 1000 * time.Millisecond
	capped := math.Min(float64(30*time.Second), float64(base)*math.Pow(2, float64(attempt)))
	jitter := capped * (0.8 + 0.4*rand.Float64())
	return time.Duration(jitter)
}

func (b *Bus) reconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.mu.Lock()
	oldCh, oldConn := b.ch, b.conn
	b.mu.Unlock()
	if oldCh != nil {
		oldCh.Close()
	}
	if oldConn != nil {
		oldConn.Close()
	}

	if err := b.Init(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	deliveries, err := ch.Consume(b.cfg.QueueName(), b.cfg.ServiceName+"-consumer", false, false, false, false, nil)
	if err != nil {
		return err
	}

	b.consumeDone = make(chan struct{})
	go b.consumeLoop(ctx, deliveries)
	return nil
}

func (b *Bus) fail(err error) {
	b.mu.Lock()
	onFatal := b.onFatal
	b.mu.Unlock()

	if onFatal != nil {
		onFatal(err)
		return
	}
	log.Fatalf("eventbus: unrecoverable: %v", err)
}
