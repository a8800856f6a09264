package circulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// Schema is the reservations projection table DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS reservations (
	id                TEXT PRIMARY KEY,
	book_id           TEXT NOT NULL,
	member_id         TEXT NOT NULL,
	status            TEXT NOT NULL,
	retail_price      NUMERIC NOT NULL DEFAULT 0,
	due_date          TIMESTAMPTZ,
	days_late         INTEGER NOT NULL DEFAULT 0,
	late_fee_applied  NUMERIC NOT NULL DEFAULT 0,
	rejection_reason  TEXT NOT NULL DEFAULT '',
	version           INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_reservations_member ON reservations (member_id);
CREATE INDEX IF NOT EXISTS idx_reservations_book ON reservations (book_id);
`

// Projection is the reservations read model.
type Projection struct {
	db   *sql.DB
	repo *projection.Repository
}

// NewProjection wraps db with the reservations table.
func NewProjection(db *sql.DB) *Projection {
	return &Projection{db: db, repo: projection.New(db, "reservations")}
}

// EnsureSchema creates the reservations table if absent.
func (p *Projection) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

// ApplyEvent materializes one RESERVATION_* event into the reservations
// table, idempotently via the version fencing token.
func (p *Projection) ApplyEvent(ctx context.Context, e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventReservationCreated:
		var payload ReservationCreated
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		return p.repo.Save(ctx, e.AggregateID, projection.Changes{
			"book_id": payload.BookID, "member_id": payload.MemberID, "status": StatusCreated,
			"version": e.Version, "created_at": e.Timestamp, "updated_at": e.Timestamp,
		})

	case EventReservationPendingPayment:
		return p.setStatus(ctx, e, StatusPendingPayment)
	case EventReservationConfirmed:
		return p.setStatus(ctx, e, StatusReserved)
	case EventReservationMarkedLate:
		return p.setStatus(ctx, e, StatusLate)
	case EventReservationCancelled:
		return p.setStatus(ctx, e, StatusCancelled)
	case EventReservationBookBrought:
		return p.setStatus(ctx, e, StatusBought)

	case EventReservationRejected:
		var payload ReservationRejected
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"status": StatusRejected, "rejection_reason": payload.Reason, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	case EventReservationRetailPriceUpdated:
		var payload ReservationRetailPriceUpdated
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"retail_price": payload.RetailPrice, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	case EventReservationBorrowed:
		var payload struct {
			DueDate time.Time `json:"dueDate"`
		}
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"status": StatusBorrowed, "due_date": payload.DueDate, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	case EventReservationReturned:
		var payload ReservationReturned
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"status": StatusReturned, "days_late": payload.DaysLate,
			"late_fee_applied": payload.LateFeeApplied, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	default:
		return nil
	}
}

func (p *Projection) setStatus(ctx context.Context, e eventstore.DomainEvent, status string) error {
	_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
		"status": status, "updated_at": e.Timestamp,
	}, e.Version)
	return err
}

// GetByID returns a single reservation, excluding soft-deleted entries
// unless includeDeleted is set.
func (p *Projection) GetByID(ctx context.Context, id string, includeDeleted bool) (*Reservation, error) {
	query := fmt.Sprintf(`
		SELECT id, book_id, member_id, status, retail_price, due_date, days_late,
		       late_fee_applied, rejection_reason, version, created_at, updated_at
		FROM reservations WHERE id = $1 AND (%s)`, projection.NotDeletedClause(includeDeleted))

	r := &Reservation{}
	var dueDate sql.NullTime
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.BookID, &r.MemberID, &r.Status, &r.RetailPrice, &dueDate, &r.DaysLate,
		&r.LateFeeApplied, &r.RejectionReason, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dueDate.Valid {
		r.DueDate = dueDate.Time
	}
	return r, nil
}

// ListByMember returns a page of reservations for memberID.
func (p *Projection) ListByMember(ctx context.Context, memberID string, page, limit int) (projection.Page[Reservation], error) {
	page, limit = projection.NormalizePage(page, limit)

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) FROM reservations WHERE member_id = $1 AND %s", projection.NotDeletedClause(false))
	if err := p.db.QueryRowContext(ctx, countQuery, memberID).Scan(&total); err != nil {
		return projection.Page[Reservation]{}, err
	}

	query := fmt.Sprintf(`
		SELECT id, book_id, member_id, status, retail_price, due_date, days_late,
		       late_fee_applied, rejection_reason, version, created_at, updated_at
		FROM reservations WHERE member_id = $1 AND %s ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		projection.NotDeletedClause(false))

	rows, err := p.db.QueryContext(ctx, query, memberID, limit, (page-1)*limit)
	if err != nil {
		return projection.Page[Reservation]{}, err
	}
	defer rows.Close()

	results := make([]Reservation, 0, limit)
	for rows.Next() {
		var r Reservation
		var dueDate sql.NullTime
		if err := rows.Scan(&r.ID, &r.BookID, &r.MemberID, &r.Status, &r.RetailPrice, &dueDate, &r.DaysLate,
			&r.LateFeeApplied, &r.RejectionReason, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return projection.Page[Reservation]{}, err
		}
		if dueDate.Valid {
			r.DueDate = dueDate.Time
		}
		results = append(results, r)
	}

	return projection.Page[Reservation]{Data: results, Pagination: projection.BuildMeta(total, page, limit)}, nil
}
