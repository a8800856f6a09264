package membership

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

func TestMemberProjectionIsIdempotentUnderRedelivery(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	email := id + "@example.com"
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventMemberRegistered, Version: 1,
		Payload: mustPayload(t, MemberRegistered{Email: email, Name: "Original"}),
	}))

	tierChange := eventstore.DomainEvent{
		AggregateID: id, EventType: EventMemberTierChanged, Version: 2,
		Payload: mustPayload(t, MemberTierChanged{NewTier: "premium"}),
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, proj.ApplyEvent(context.Background(), tierChange))
	}

	m, err := proj.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "premium", m.MembershipTier)
	require.Equal(t, 2, m.Version)
}

func TestMemberProjectionGetByEmail(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	email := id + "@example.com"
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventMemberRegistered, Version: 1,
		Payload: mustPayload(t, MemberRegistered{Email: email, Name: "Original"}),
	}))

	m, err := proj.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, id, m.ID)
}

func TestMemberProjectionCredentialRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	proj := NewProjection(db)
	require.NoError(t, proj.EnsureSchema(context.Background()))

	id := uuid.NewString()
	email := id + "@example.com"
	require.NoError(t, proj.ApplyEvent(context.Background(), eventstore.DomainEvent{
		AggregateID: id, EventType: EventMemberRegistered, Version: 1,
		Payload: mustPayload(t, MemberRegistered{Email: email, Name: "Original"}),
	}))
	require.NoError(t, proj.SaveCredential(context.Background(), id, "hash", "salt"))

	cred, err := proj.GetCredential(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, cred)
	require.Equal(t, "hash", cred.PasswordHash)
}
