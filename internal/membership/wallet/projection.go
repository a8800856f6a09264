// internal/membership/wallet/projection.go
package wallet

import (
	"context"
	"database/sql"
	"encoding/json"

	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// Schema is the wallets projection table DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
	id          TEXT PRIMARY KEY,
	member_id   TEXT NOT NULL UNIQUE,
	balance     NUMERIC NOT NULL DEFAULT 0,
	version     INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at  TIMESTAMPTZ
);
`

// Projection is the wallets read model.
type Projection struct {
	db   *sql.DB
	repo *projection.Repository
}

// NewProjection wraps db with the wallets table.
func NewProjection(db *sql.DB) *Projection {
	return &Projection{db: db, repo: projection.New(db, "wallets")}
}

// EnsureSchema creates the wallets table if absent.
func (p *Projection) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

// ApplyEvent materializes one WALLET_* event into the wallets table,
// idempotently via the version fencing token.
func (p *Projection) ApplyEvent(ctx context.Context, e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventWalletCreated:
		var payload WalletCreated
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		return p.repo.Save(ctx, e.AggregateID, projection.Changes{
			"member_id": payload.MemberID, "balance": 0,
			"version": e.Version, "created_at": e.Timestamp, "updated_at": e.Timestamp,
		})

	case EventWalletCredited, EventWalletDebited:
		delta := walletDelta(e)
		_, err := p.db.ExecContext(ctx, `
			UPDATE wallets SET balance = balance + $1, version = $2, updated_at = $3
			WHERE id = $4 AND version < $2`, delta, e.Version, e.Timestamp, e.AggregateID)
		return err

	default:
		return nil
	}
}

func walletDelta(e eventstore.DomainEvent) float64 {
	switch e.EventType {
	case EventWalletCredited:
		var p WalletCredited
		_ = json.Unmarshal(e.Payload, &p)
		return p.Amount
	case EventWalletDebited:
		var p WalletDebited
		_ = json.Unmarshal(e.Payload, &p)
		return -p.Amount
	default:
		return 0
	}
}

// GetByID returns a single wallet.
func (p *Projection) GetByID(ctx context.Context, id string) (*Wallet, error) {
	w := &Wallet{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, member_id, balance, version, created_at, updated_at
		FROM wallets WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&w.ID, &w.MemberID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetByMemberID returns the wallet belonging to memberID, if any.
func (p *Projection) GetByMemberID(ctx context.Context, memberID string) (*Wallet, error) {
	w := &Wallet{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, member_id, balance, version, created_at, updated_at
		FROM wallets WHERE member_id = $1 AND deleted_at IS NULL`, memberID,
	).Scan(&w.ID, &w.MemberID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}
