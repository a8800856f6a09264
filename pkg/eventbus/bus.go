// Package eventbus implements the asynchronous, topic-routed publish/
// subscribe layer that carries domain events between services: a topic
// exchange with an alternate exchange for unroutable messages, a
// dead-letter exchange for exhausted retries, per-service durable queues,
// and lazily-created TTL retry queues implementing the bounded backoff
// ladder.
//
// There is no synchronous request/response here by design: services react
// to events, they do not call one another directly (see internal/choreography).
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus/pkg/eventstore"
)

// Handler processes one delivered event. Returning an error causes the
// delivery to be retried (up to MaxRetries) before dead-lettering.
type Handler func(ctx context.Context, event eventstore.DomainEvent) error

// UpcastFunc rewrites an older-schema event into the shape current handlers
// expect. The default is the identity function.
type UpcastFunc func(eventstore.DomainEvent) eventstore.DomainEvent

// Bus owns one AMQP connection/channel pair for a single service and
// mediates all publish/subscribe traffic through it.
type Bus struct {
	cfg    Config
	tracer trace.Tracer

	mu          sync.Mutex
	conn        *amqp.Connection
	ch          *amqp.Channel
	initialized bool

	handlers    map[string][]Handler // eventType -> handlers
	wildcard    []Handler
	pendingKeys map[string]bool // routing keys bound before Init completes

	upcasters map[string]UpcastFunc

	flowBlocked atomic.Bool

	shuttingDown   atomic.Bool
	reconnectCount atomic.Int32
	onFatal        func(error) // called when reconnection exhausts ReconnectFailureLimit; defaults to a log+process exit

	consumeDone chan struct{}
	salvageDone chan struct{}
}

// New constructs a Bus. Call Init then StartConsuming before publishing or
// expecting deliveries.
func New(cfg Config) *Bus {
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 50
	}
	return &Bus{
		cfg:         cfg,
		tracer:      otel.Tracer("libranexus/eventbus"),
		handlers:    make(map[string][]Handler),
		pendingKeys: make(map[string]bool),
		upcasters:   make(map[string]UpcastFunc),
		consumeDone: make(chan struct{}),
		salvageDone: make(chan struct{}),
	}
}

// RegisterUpcaster installs a schema-upgrade hook for eventType. Absent a
// registration, events pass through unchanged.
func (b *Bus) RegisterUpcaster(eventType string, fn UpcastFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upcasters[eventType] = fn
}

func (b *Bus) upcast(e eventstore.DomainEvent) eventstore.DomainEvent {
	b.mu.Lock()
	fn, ok := b.upcasters[e.EventType]
	b.mu.Unlock()
	if !ok {
		return e
	}
	return fn(e)
}

// Init declares the full topology: main topic exchange (with an alternate
// exchange for unroutable messages), dead-letter exchange and queue, the
// service's own durable queue (TTL + max-length + DLX bound), and the
// unroutable queue bound to the alternate exchange. Init is idempotent —
// concurrent or repeated calls after a successful Init are no-ops.
func (b *Bus) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	ctx, span := b.tracer.Start(ctx, "eventbus.init")
	defer span.End()

	conn, err := amqp.DialConfig(b.cfg.AMQPURL(), amqp.Config{})
	if err != nil {
		return fmt.Errorf("eventbus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("eventbus: open channel: %w", err)
	}

	if err := declareTopology(ch, b.cfg); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("eventbus: qos: %w", err)
	}

	for key := range b.pendingKeys {
		if err := bindRoutingKey(ch, b.cfg, key); err != nil {
			ch.Close()
			conn.Close()
			return err
		}
	}

	b.conn = conn
	b.ch = ch
	b.initialized = true

	closeNotify := make(chan *amqp.Error, 1)
	ch.NotifyClose(closeNotify)
	flowNotify := make(chan bool, 1)
	ch.NotifyFlow(flowNotify)
	go b.watchFlow(flowNotify)
	go b.watchClose(closeNotify)

	span.SetAttributes(
		attribute.String("eventbus.exchange", b.cfg.Exchange),
		attribute.String("eventbus.queue", b.cfg.QueueName()),
	)
	return nil
}

// declareTopology declares every exchange/queue/binding Init needs. Split
// out so reconnection can re-run the identical sequence.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, amqp.Table{
		"alternate-exchange": cfg.AlternateExchange(),
	}); err != nil {
		return fmt.Errorf("eventbus: declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := ch.ExchangeDeclare(cfg.AlternateExchange(), amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("eventbus: declare alternate exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange(), amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("eventbus: declare dlx: %w", err)
	}

	mainArgs := amqp.Table{
		"x-dead-letter-exchange": cfg.DeadLetterExchange(),
		"x-message-ttl":          int64(QueueTTLMillis),
		"x-max-length":           int64(QueueMaxLength),
	}
	if _, err := ch.QueueDeclare(cfg.QueueName(), true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("eventbus: declare queue %s: %w", cfg.QueueName(), err)
	}

	if _, err := ch.QueueDeclare(cfg.DeadLetterQueueName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("eventbus: declare dlq: %w", err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueueName(), "#", cfg.DeadLetterExchange(), false, nil); err != nil {
		return fmt.Errorf("eventbus: bind dlq: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.UnroutableQueueName(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("eventbus: declare unroutable queue: %w", err)
	}
	if err := ch.QueueBind(cfg.UnroutableQueueName(), "", cfg.AlternateExchange(), false, nil); err != nil {
		return fmt.Errorf("eventbus: bind unroutable queue: %w", err)
	}
	return nil
}

func bindRoutingKey(ch *amqp.Channel, cfg Config, key string) error {
	return ch.QueueBind(cfg.QueueName(), key, cfg.Exchange, false, nil)
}

// Subscribe registers handler for eventType (use "*" via SubscribeToAll for
// every event type) and binds the service queue to that routing key. Safe
// to call before Init — the binding is applied once Init runs.
func (b *Bus) Subscribe(eventType string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if eventType == "*" {
		b.wildcard = append(b.wildcard, handler)
	} else {
		b.handlers[eventType] = append(b.handlers[eventType], handler)
	}

	key := routingKeyFor(eventType)
	alreadyBound := b.pendingKeys[key]
	b.pendingKeys[key] = true

	if b.initialized && !alreadyBound {
		return bindRoutingKey(b.ch, b.cfg, key)
	}
	return nil
}

// SubscribeToAll registers handler for every event type on this service's
// queue (routing key "#").
func (b *Bus) SubscribeToAll(handler Handler) error {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes handler from eventType's registration; it does not
// unbind the queue (bindings are cheap to keep and other handlers may still
// rely on the same routing key).
func (b *Bus) Unsubscribe(eventType string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := reflect.ValueOf(handler).Pointer()
	filter := func(hs []Handler) []Handler {
		out := hs[:0]
		for _, h := range hs {
			if reflect.ValueOf(h).Pointer() != target {
				out = append(out, h)
			}
		}
		return out
	}

	if eventType == "*" {
		b.wildcard = filter(b.wildcard)
	} else {
		b.handlers[eventType] = filter(b.handlers[eventType])
	}
	return nil
}

// BindEventTypes bulk-binds routing keys during service wiring, ahead of
// any handler registration — useful when a consumer wants its queue primed
// for event types whose handlers attach later.
func (b *Bus) BindEventTypes(eventTypes []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, et := range eventTypes {
		key := routingKeyFor(et)
		b.pendingKeys[key] = true
		if b.initialized {
			if err := bindRoutingKey(b.ch, b.cfg, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func routingKeyFor(eventType string) string {
	if eventType == "*" {
		return "#"
	}
	return eventType
}

func (b *Bus) handlersFor(eventType string) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Handler, 0, len(b.handlers[eventType])+len(b.wildcard))
	out = append(out, b.handlers[eventType]...)
	out = append(out, b.wildcard...)
	return out
}

// Shutdown stops consuming, closes the channel and connection, and waits
// for the consume/salvage loops to exit.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.shuttingDown.Store(true)

	b.mu.Lock()
	ch, conn := b.ch, b.conn
	b.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		<-b.consumeDone
		<-b.salvageDone
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return nil
}

func (b *Bus) watchFlow(flow <-chan bool) {
	for blocked := range flow {
		b.flowBlocked.Store(blocked)
	}
}
