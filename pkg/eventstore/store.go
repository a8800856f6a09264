package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libranexus/pkg/apperror"
)

// Schema is the logical schema backing this store: event_store table with a
// unique (aggregate_id, version), supporting indexes, and a single-row
// global_version counter.
const Schema = `
CREATE TABLE IF NOT EXISTS event_store (
	id              BIGSERIAL PRIMARY KEY,
	aggregate_id    TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	version         INT NOT NULL,
	global_version  BIGINT NOT NULL,
	schema_version  INT NOT NULL DEFAULT 1,
	timestamp       TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL,
	metadata        JSONB,
	UNIQUE (aggregate_id, version)
);
CREATE INDEX IF NOT EXISTS event_store_type_ts_idx ON event_store (event_type, timestamp);
CREATE UNIQUE INDEX IF NOT EXISTS event_store_global_version_idx ON event_store (global_version);

CREATE TABLE IF NOT EXISTS global_version (
	id  TEXT PRIMARY KEY,
	seq BIGINT NOT NULL
);
INSERT INTO global_version (id, seq) VALUES ('global', 0) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS aggregate_snapshots (
	aggregate_id TEXT PRIMARY KEY,
	version      INT NOT NULL,
	state        JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`

// Store is the durable, append-only event log.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// New creates an event store over an existing *sql.DB connection pool.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("libranexus/eventstore"),
	}
}

// EnsureSchema creates the event_store/global_version/aggregate_snapshots
// tables if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// SaveEvents atomically appends events to aggregateID's stream, enforcing
// optimistic concurrency against expectedVersion and reserving a block of
// global version numbers for the batch. Empty events is a no-op success.
func (s *Store) SaveEvents(ctx context.Context, aggregateID string, events []DomainEvent, expectedVersion int) error {
	if aggregateID == "" {
		return ErrEmptyAggregateID
	}
	if len(events) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "eventstore.save_events",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM event_store WHERE aggregate_id = $1
	`, aggregateID).Scan(&currentVersion)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query current version: %w", err)
	}

	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return apperror.WrapConcurrency(currentVersion, expectedVersion)
	}

	start, err := s.reserveGlobalVersions(ctx, tx, len(events))
	if err != nil {
		return fmt.Errorf("reserve global versions: %w", err)
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO event_store (aggregate_id, event_type, version, global_version, schema_version, timestamp, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		e.Version = expectedVersion + i + 1
		e.GlobalVersion = start + int64(i)
		if e.SchemaVersion == 0 {
			e.SchemaVersion = 1
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		if _, ok := e.Metadata["correlationId"]; !ok {
			e.Metadata["correlationId"] = uuid.NewString()
		}
		e.Metadata["stored"] = now

		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		_, err = stmt.ExecContext(ctx, e.AggregateID, e.EventType, e.Version, e.GlobalVersion, e.SchemaVersion, e.Timestamp, e.Payload, metaJSON)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return ErrDuplicateEvent
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", e.Version),
			attribute.Int64("event.global_version", e.GlobalVersion),
			attribute.String("event.type", e.EventType),
		))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// reserveGlobalVersions atomically reserves n global version numbers and
// returns the first one in the block.
func (s *Store) reserveGlobalVersions(ctx context.Context, tx *sql.Tx, n int) (int64, error) {
	var highest int64
	err := tx.QueryRowContext(ctx, `
		UPDATE global_version SET seq = seq + $1 WHERE id = 'global' RETURNING seq
	`, n).Scan(&highest)
	if err != nil {
		return 0, err
	}
	return highest - int64(n) + 1, nil
}

// NextGlobalVersion atomically reserves n global version numbers outside of
// any caller-managed transaction and returns the highest reserved value.
func (s *Store) NextGlobalVersion(ctx context.Context, n int) (int64, error) {
	var highest int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE global_version SET seq = seq + $1 WHERE id = 'global' RETURNING seq
	`, n).Scan(&highest)
	return highest, err
}

// retryBackoff implements the spec's appendBatch backoff: 50 + rand(0, 100·2^attempt) ms.
type retryBackoff struct {
	attempt int
}

func (b *retryBackoff) NextBackOff() time.Duration {
	b.attempt++
	jitterCeiling := 100 * (1 << uint(b.attempt))
	delay := 50 + rand.Intn(jitterCeiling)
	return time.Duration(delay) * time.Millisecond
}

func (b *retryBackoff) Reset() { b.attempt = 0 }

// AppendBatch wraps SaveEvents with bounded retry (default 3 attempts) for
// CONCURRENCY_CONFLICT only; other errors are non-retryable and propagate
// immediately. Between attempts it re-reads the current version so the
// caller's expectedVersion is refreshed before retrying.
func (s *Store) AppendBatch(ctx context.Context, aggregateID string, events []DomainEvent, expectedVersion int) error {
	return s.AppendBatchWithRetries(ctx, aggregateID, events, expectedVersion, 3)
}

// AppendBatchWithRetries is AppendBatch with an explicit attempt cap, mainly
// for tests exercising the retry ladder.
func (s *Store) AppendBatchWithRetries(ctx context.Context, aggregateID string, events []DomainEvent, expectedVersion int, maxAttempts int) error {
	bo := &retryBackoff{}
	version := expectedVersion

	op := func() (struct{}, error) {
		batch := make([]DomainEvent, len(events))
		copy(batch, events)
		for i := range batch {
			batch[i].Version = 0
			batch[i].GlobalVersion = 0
		}

		err := s.SaveEvents(ctx, aggregateID, batch, version)
		if err == nil {
			copy(events, batch)
			return struct{}{}, nil
		}
		if !apperror.IsConcurrency(err) {
			return struct{}{}, backoff.Permanent(err)
		}

		current, verr := s.GetCurrentVersion(ctx, aggregateID)
		if verr == nil {
			version = current
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	return err
}

// GetEventsForAggregate returns all events for aggregateID ordered by
// version ascending. Returns an empty slice (never nil-with-error) if none
// exist.
func (s *Store) GetEventsForAggregate(ctx context.Context, aggregateID string) ([]DomainEvent, error) {
	ctx, span := s.tracer.Start(ctx, "eventstore.get_events",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate_id, event_type, version, global_version, schema_version, timestamp, payload, metadata
		FROM event_store
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]DomainEvent, 0)
	for rows.Next() {
		var e DomainEvent
		var metaJSON []byte
		if err := rows.Scan(&e.AggregateID, &e.EventType, &e.Version, &e.GlobalVersion, &e.SchemaVersion, &e.Timestamp, &e.Payload, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// GetCurrentVersion returns the latest version recorded for aggregateID, 0
// if none.
func (s *Store) GetCurrentVersion(ctx context.Context, aggregateID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM event_store WHERE aggregate_id = $1
	`, aggregateID).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// StreamSince returns up to batchSize events with a global_version greater
// than fromGlobalVersion, ordered by global_version ascending — used by
// projections that replay from the global stream rather than per-aggregate.
func (s *Store) StreamSince(ctx context.Context, fromGlobalVersion int64, batchSize int) ([]DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate_id, event_type, version, global_version, schema_version, timestamp, payload, metadata
		FROM event_store
		WHERE global_version > $1
		ORDER BY global_version ASC
		LIMIT $2
	`, fromGlobalVersion, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	defer rows.Close()

	events := make([]DomainEvent, 0)
	for rows.Next() {
		var e DomainEvent
		var metaJSON []byte
		if err := rows.Scan(&e.AggregateID, &e.EventType, &e.Version, &e.GlobalVersion, &e.SchemaVersion, &e.Timestamp, &e.Payload, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		events = append(events, e)
	}
	return events, nil
}

// Snapshot accelerates rehydration by capturing aggregate state at a
// version; it is never required for correctness, only replay speed.
type Snapshot struct {
	AggregateID string
	Version     int
	State       json.RawMessage
	CreatedAt   time.Time
}

// SaveSnapshot stores the latest snapshot for an aggregate, ignoring the
// write if a newer snapshot is already stored.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregate_snapshots (aggregate_id, version, state, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (aggregate_id) DO UPDATE
		SET version = EXCLUDED.version, state = EXCLUDED.state, created_at = EXCLUDED.created_at
		WHERE aggregate_snapshots.version < EXCLUDED.version
	`, snap.AggregateID, snap.Version, snap.State, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot for aggregateID, or nil if
// none exists.
func (s *Store) LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, version, state, created_at FROM aggregate_snapshots WHERE aggregate_id = $1
	`, aggregateID).Scan(&snap.AggregateID, &snap.Version, &snap.State, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}
