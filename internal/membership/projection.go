// internal/membership/projection.go
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// Schema is the members/credentials projection table DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS members (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL UNIQUE,
	name             TEXT NOT NULL,
	membership_tier  TEXT NOT NULL DEFAULT 'basic',
	status           TEXT NOT NULL DEFAULT 'active',
	version          INTEGER NOT NULL,
	expires_at       TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS credentials (
	member_id       TEXT PRIMARY KEY REFERENCES members (id),
	password_hash   TEXT NOT NULL,
	salt            TEXT NOT NULL,
	failed_attempts INTEGER NOT NULL DEFAULT 0,
	locked_until    TIMESTAMPTZ
);
`

// Projection is the members read model.
type Projection struct {
	db   *sql.DB
	repo *projection.Repository
}

// NewProjection wraps db with the members table.
func NewProjection(db *sql.DB) *Projection {
	return &Projection{db: db, repo: projection.New(db, "members")}
}

// EnsureSchema creates the members/credentials tables if absent.
func (p *Projection) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

// ApplyEvent materializes one MEMBER_* event into the members table,
// idempotently via the version fencing token.
func (p *Projection) ApplyEvent(ctx context.Context, e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventMemberRegistered:
		var payload MemberRegistered
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		return p.repo.Save(ctx, e.AggregateID, projection.Changes{
			"email": payload.Email, "name": payload.Name, "membership_tier": "basic", "status": "active",
			"version": e.Version, "expires_at": e.Timestamp.AddDate(1, 0, 0),
			"created_at": e.Timestamp, "updated_at": e.Timestamp,
		})

	case EventMemberTierChanged:
		var payload MemberTierChanged
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"membership_tier": payload.NewTier, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	case EventMemberSuspended:
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"status": "suspended", "updated_at": e.Timestamp,
		}, e.Version)
		return err

	default:
		return nil
	}
}

// SaveCredential inserts a member's password credential alongside the
// projection row written by ApplyEvent for EventMemberRegistered.
func (p *Projection) SaveCredential(ctx context.Context, memberID, passwordHash, salt string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credentials (member_id, password_hash, salt)
		VALUES ($1, $2, $3)
		ON CONFLICT (member_id) DO NOTHING`, memberID, passwordHash, salt)
	return err
}

// GetCredential returns the stored credential for memberID.
func (p *Projection) GetCredential(ctx context.Context, memberID string) (*Credential, error) {
	c := &Credential{}
	err := p.db.QueryRowContext(ctx, `
		SELECT member_id, password_hash, salt FROM credentials WHERE member_id = $1`, memberID,
	).Scan(&c.MemberID, &c.PasswordHash, &c.Salt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByEmail looks up a member by login email.
func (p *Projection) GetByEmail(ctx context.Context, email string) (*Member, error) {
	m := &Member{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, name, membership_tier, status, version, expires_at, created_at, updated_at
		FROM members WHERE email = $1`, email,
	).Scan(&m.ID, &m.Email, &m.Name, &m.MembershipTier, &m.Status, &m.Version, &m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetByID returns a single member.
func (p *Projection) GetByID(ctx context.Context, id string) (*Member, error) {
	query := fmt.Sprintf(`
		SELECT id, email, name, membership_tier, status, version, expires_at, created_at, updated_at
		FROM members WHERE id = $1 AND %s`, projection.NotDeletedClause(false))
	m := &Member{}
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Email, &m.Name, &m.MembershipTier, &m.Status, &m.Version, &m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
