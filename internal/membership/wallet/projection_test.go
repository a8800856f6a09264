package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

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

func TestWalletProjectionAppliesCreditsAndDebitsAtomically(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	memberID := uuid.NewString()
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventWalletCreated, Version: 1,
		Payload: mustPayload(t, WalletCreated{MemberID: memberID}),
	}))
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventWalletCredited, Version: 2,
		Payload: mustPayload(t, WalletCredited{Amount: 50, Reason: "top-up"}),
	}))
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventWalletDebited, Version: 3,
		Payload: mustPayload(t, WalletDebited{Amount: 20, ReservationID: "res-1"}),
	}))

	w, err := proj.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, 30.0, w.Balance)
	require.Equal(t, 3, w.Version)
}

func TestWalletProjectionRedeliveryIsIgnoredByVersionFence(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	memberID := uuid.NewString()
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventWalletCreated, Version: 1,
		Payload: mustPayload(t, WalletCreated{MemberID: memberID}),
	}))

	credit := eventstore.DomainEvent{
		AggregateID: id, EventType: EventWalletCredited, Version: 2,
		Payload: mustPayload(t, WalletCredited{Amount: 50, Reason: "top-up"}),
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, proj.ApplyEvent(context.Background(), credit))
	}

	w, err := proj.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 50.0, w.Balance)
}

func TestWalletProjectionGetByMemberID(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	memberID := uuid.NewString()
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventWalletCreated, Version: 1,
		Payload: mustPayload(t, WalletCreated{MemberID: memberID}),
	}))

	w, err := proj.GetByMemberID(context.Background(), memberID)
	require.NoError(t, err)
	require.NotNil(t, w)
	require.Equal(t, id, w.ID)
}
