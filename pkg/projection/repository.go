// Package projection implements the read-side: version-fenced, idempotent
// updaters over per-aggregate-kind document tables, plus the paging
// envelope used by query endpoints.
//
// Each aggregate kind (Book, Reservation, Wallet, Member) wraps a
// Repository with its own typed Get/List methods; this package supplies the
// shared write path (Save/UpdateIfNewer/SimpleUpdate/MarkDeleted) so every
// service enforces the same fencing-token idempotency rule instead of each
// hand-rolling its own "UPDATE ... WHERE version = $n".
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"libranexus/pkg/apperror"
)

// Changes is an unordered $set of column -> value for a partial update.
type Changes map[string]any

// Repository is the generic, version-fenced write path over a single
// projection table keyed by an "id" column with a "version" column.
type Repository struct {
	db    *sql.DB
	table string
}

// New wraps db for the named projection table. The table must have at
// least "id", "version", and "deleted_at" columns.
func New(db *sql.DB, table string) *Repository {
	return &Repository{db: db, table: table}
}

// Save inserts or upserts a document by id; id is written to the "id"
// column whether or not fields carries it. An empty id is a
// VALIDATION_ERROR.
func (r *Repository) Save(ctx context.Context, id string, fields Changes) error {
	if id == "" {
		return apperror.New(apperror.CodeValidation, "projection: id is required", nil)
	}

	all := Changes{}
	for k, v := range fields {
		all[k] = v
	}
	all["id"] = id

	cols := sortedKeys(all)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	updateSet := make([]string, 0, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = all[c]
		if c != "id" {
			updateSet = append(updateSet, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		r.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updateSet, ", "),
	)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// UpdateIfNewer applies changes only if the stored version is strictly less
// than incomingVersion, then sets version = incomingVersion. Returns the
// number of rows matched: 0 means either the id does not exist or the
// stored version was already >= incoming (a stale/duplicate delivery).
func (r *Repository) UpdateIfNewer(ctx context.Context, id string, changes Changes, incomingVersion int) (int, error) {
	if len(changes) == 0 {
		changes = Changes{}
	}
	cols := sortedKeys(changes)
	setClauses := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+3)

	for i, c := range cols {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", c, i+1))
		args = append(args, changes[c])
	}
	versionPlaceholder := len(cols) + 1
	setClauses = append(setClauses, fmt.Sprintf("version = $%d", versionPlaceholder))
	args = append(args, incomingVersion)

	idPlaceholder := versionPlaceholder + 1
	versionCmpPlaceholder := idPlaceholder + 1
	args = append(args, id, incomingVersion)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND version < $%d",
		r.table, strings.Join(setClauses, ", "), idPlaceholder, versionCmpPlaceholder,
	)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SimpleUpdate applies a non-versioned $set, for fields that are
// commutative across event order (e.g. a denormalized price recomputed
// from the latest known value regardless of delivery order).
func (r *Repository) SimpleUpdate(ctx context.Context, id string, changes Changes) (int, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	cols := sortedKeys(changes)
	setClauses := make([]string, len(cols))
	args := make([]any, len(cols)+1)
	for i, c := range cols {
		setClauses[i] = fmt.Sprintf("%s = $%d", c, i+1)
		args[i] = changes[c]
	}
	args[len(cols)] = id

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", r.table, strings.Join(setClauses, ", "), len(cols)+1)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MarkDeleted soft-deletes a document, fenced by the same version guard as
// UpdateIfNewer so retried delete events are idempotent.
func (r *Repository) MarkDeleted(ctx context.Context, id string, version int, deletedAt time.Time) (int, error) {
	return r.UpdateIfNewer(ctx, id, Changes{"deleted_at": deletedAt, "updated_at": deletedAt}, version)
}

// NotDeletedClause returns the SQL fragment excluding soft-deleted rows,
// to be ANDed into callers' own SELECTs (each projection has its own
// column set, so GetAll/GetByID live in the owning package).
func NotDeletedClause(includeDeleted bool) string {
	if includeDeleted {
		return "TRUE"
	}
	return "deleted_at IS NULL"
}

func sortedKeys(m Changes) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
