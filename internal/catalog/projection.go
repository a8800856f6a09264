package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// Schema is the books projection table DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS books (
	id                TEXT PRIMARY KEY,
	isbn              TEXT NOT NULL,
	title             TEXT NOT NULL,
	author            TEXT NOT NULL,
	publisher         TEXT NOT NULL DEFAULT '',
	publication_year  INTEGER NOT NULL DEFAULT 0,
	retail_price      NUMERIC NOT NULL DEFAULT 0,
	total_copies      INTEGER NOT NULL DEFAULT 0,
	available         INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_books_isbn ON books (isbn);
`

// Projection is the books read model: a version-fenced repository plus the
// typed queries HTTP handlers need.
type Projection struct {
	db   *sql.DB
	repo *projection.Repository
}

// NewProjection wraps db with the books table.
func NewProjection(db *sql.DB) *Projection {
	return &Projection{db: db, repo: projection.New(db, "books")}
}

// EnsureSchema creates the books table if absent.
func (p *Projection) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, Schema)
	return err
}

// ApplyEvent materializes one BOOK_* event into the books table,
// idempotently via the version fencing token.
func (p *Projection) ApplyEvent(ctx context.Context, e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventBookCreated:
		var payload BookCreated
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		return p.repo.Save(ctx, e.AggregateID, projection.Changes{
			"isbn": payload.ISBN, "title": payload.Title, "author": payload.Author,
			"publisher": payload.Publisher, "publication_year": payload.PublicationYear,
			"retail_price": payload.RetailPrice, "total_copies": payload.TotalCopies,
			"available": payload.TotalCopies, "version": e.Version,
			"created_at": e.Timestamp, "updated_at": e.Timestamp,
		})

	case EventBookUpdated:
		var payload BookUpdated
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		changes := projection.Changes{"updated_at": e.Timestamp}
		if payload.Title != nil {
			changes["title"] = *payload.Title
		}
		if payload.Author != nil {
			changes["author"] = *payload.Author
		}
		if payload.Publisher != nil {
			changes["publisher"] = *payload.Publisher
		}
		if payload.PublicationYear != nil {
			changes["publication_year"] = *payload.PublicationYear
		}
		if payload.RetailPrice != nil {
			changes["retail_price"] = *payload.RetailPrice
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, changes, e.Version)
		return err

	case EventBookDeleted:
		_, err := p.repo.MarkDeleted(ctx, e.AggregateID, e.Version, e.Timestamp)
		return err

	case EventBookRetailPriceSet:
		var payload BookRetailPriceSet
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"retail_price": payload.RetailPrice, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	case EventBookCopiesChanged:
		var payload BookCopiesChanged
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := p.repo.UpdateIfNewer(ctx, e.AggregateID, projection.Changes{
			"total_copies": payload.TotalCopies, "available": payload.Available, "updated_at": e.Timestamp,
		}, e.Version)
		return err

	default:
		return nil
	}
}

// GetByID returns a single book, excluding soft-deleted entries unless
// includeDeleted is set.
func (p *Projection) GetByID(ctx context.Context, id string, includeDeleted bool) (*Book, error) {
	query := fmt.Sprintf(`
		SELECT id, isbn, title, author, publisher, publication_year, retail_price,
		       total_copies, available, version, created_at, updated_at
		FROM books WHERE id = $1 AND (%s)`, projection.NotDeletedClause(includeDeleted))

	b := &Book{}
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Publisher, &b.PublicationYear, &b.RetailPrice,
		&b.TotalCopies, &b.Available, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// List returns a page of books ordered by title.
func (p *Projection) List(ctx context.Context, page, limit int) (projection.Page[Book], error) {
	page, limit = projection.NormalizePage(page, limit)

	var total int
	countQuery := fmt.Sprintf("SELECT count(*) FROM books WHERE %s", projection.NotDeletedClause(false))
	if err := p.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return projection.Page[Book]{}, err
	}

	query := fmt.Sprintf(`
		SELECT id, isbn, title, author, publisher, publication_year, retail_price,
		       total_copies, available, version, created_at, updated_at
		FROM books WHERE %s ORDER BY title LIMIT $1 OFFSET $2`, projection.NotDeletedClause(false))

	rows, err := p.db.QueryContext(ctx, query, limit, (page-1)*limit)
	if err != nil {
		return projection.Page[Book]{}, err
	}
	defer rows.Close()

	books := make([]Book, 0, limit)
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Publisher, &b.PublicationYear,
			&b.RetailPrice, &b.TotalCopies, &b.Available, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return projection.Page[Book]{}, err
		}
		books = append(books, b)
	}

	return projection.Page[Book]{Data: books, Pagination: projection.BuildMeta(total, page, limit)}, nil
}
