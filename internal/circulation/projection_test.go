package circulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"libranexus/pkg/eventstore"
)

func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	return db
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestReservationProjectionIsIdempotentUnderRedelivery(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationCreated, Version: 1,
		Payload: mustPayload(t, ReservationCreated{BookID: "book-1", MemberID: "member-1"}),
	}))

	priceUpdate := eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationRetailPriceUpdated, Version: 2,
		Payload: mustPayload(t, ReservationRetailPriceUpdated{RetailPrice: 24.99}),
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, proj.ApplyEvent(context.Background(), priceUpdate))
	}

	r, err := proj.GetByID(context.Background(), id, false)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, 24.99, r.RetailPrice)
	require.Equal(t, 2, r.Version)
}

func TestReservationProjectionStaleDeliveryIsIgnored(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationCreated, Version: 1,
		Payload: mustPayload(t, ReservationCreated{BookID: "book-1", MemberID: "member-1"}),
	}))
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationRetailPriceUpdated, Version: 3,
		Payload: mustPayload(t, ReservationRetailPriceUpdated{RetailPrice: 50}),
	}))

	// version-2 update arriving after version 3 is stale
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationRetailPriceUpdated, Version: 2,
		Payload: mustPayload(t, ReservationRetailPriceUpdated{RetailPrice: 10}),
	}))

	r, err := proj.GetByID(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, 50.0, r.RetailPrice)
}

func TestReservationProjectionReturnedCapturesLateFee(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationCreated, Version: 1,
		Payload: mustPayload(t, ReservationCreated{BookID: "book-1", MemberID: "member-1"}),
	}))
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationBorrowed, Version: 2,
		Payload: mustPayload(t, struct {
			DueDate time.Time `json:"dueDate"`
		}{DueDate: time.Now().Add(-48 * time.Hour)}),
	}))
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventReservationReturned, Version: 3,
		Payload: mustPayload(t, ReservationReturned{DaysLate: 2, LateFeeApplied: 1.5}),
	}))

	r, err := proj.GetByID(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, StatusReturned, r.Status)
	require.Equal(t, 2, r.DaysLate)
	require.Equal(t, 1.5, r.LateFeeApplied)
}

func TestReservationProjectionListByMember(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	memberID := uuid.NewString()
	for i := 0; i < 2; i++ {
		id := uuid.NewString()
		require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
			AggregateID: id, EventType: EventReservationCreated, Version: 1,
			Payload: mustPayload(t, ReservationCreated{BookID: "book-1", MemberID: memberID}),
		}))
	}

	page, err := proj.ListByMember(context.Background(), memberID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	require.Equal(t, 2, page.Pagination.Total)
}
