package eventbus

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"libranexus/pkg/eventstore"
)

// newTestBus dials a real broker from RABBIT_MQ_URL/RABBIT_MQ_PORT, skipping
// the test when unreachable — mirrors pkg/eventstore's Postgres test setup.
func newTestBus(t *testing.T, service string) *Bus {
	t.Helper()
	cfg := FromEnv(service)
	cfg.Environment = "test"

	b := New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Init(ctx); err != nil {
		t.Skipf("rabbitmq unavailable, skipping: %v", err)
	}
	t.Cleanup(func() {
		_ = b.Shutdown(context.Background())
	})
	return b
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := newTestBus(t, "eventbus-roundtrip-"+os.Getenv("TEST_RUN_ID"))

	received := make(chan eventstore.DomainEvent, 1)
	require.NoError(t, b.Subscribe("BOOK_CREATED", func(ctx context.Context, e eventstore.DomainEvent) error {
		received <- e
		return nil
	}))
	require.NoError(t, b.StartConsuming(context.Background()))

	evt, err := eventstore.NewEvent("book-1", "BOOK_CREATED", 1, map[string]string{"title": "Go in Practice"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), evt))

	select {
	case got := <-received:
		require.Equal(t, "book-1", got.AggregateID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSubscribeBeforeInitBindsOnInit(t *testing.T) {
	cfg := FromEnv("eventbus-prebind-" + os.Getenv("TEST_RUN_ID"))
	cfg.Environment = "test"
	b := New(cfg)

	require.NoError(t, b.Subscribe("WALLET_DEBITED", func(ctx context.Context, e eventstore.DomainEvent) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Init(ctx); err != nil {
		t.Skipf("rabbitmq unavailable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	require.True(t, b.pendingKeys["WALLET_DEBITED"])
}

func TestCheckHealthReportsDownBeforeInit(t *testing.T) {
	b := New(FromEnv("eventbus-health-unused"))
	status := b.CheckHealth(context.Background())
	require.False(t, status.Up)
}

func TestRetryHeadersStampsReasonAndBumpsCount(t *testing.T) {
	existing := amqp.Table{"x-retry-count": int32(1), "x-correlation-id": "corr-1"}
	got := retryHeaders(existing, 2, errors.New("insufficient wallet balance"))

	require.Equal(t, int32(2), got["x-retry-count"])
	require.Equal(t, "insufficient wallet balance", got["x-last-retry-reason"])
	require.Equal(t, "corr-1", got["x-correlation-id"], "unrelated headers carry forward unchanged")
}

func TestRetryHeadersOmitsReasonWhenNil(t *testing.T) {
	got := retryHeaders(nil, 1, nil)

	require.Equal(t, int32(1), got["x-retry-count"])
	_, present := got["x-last-retry-reason"]
	require.False(t, present)
}
