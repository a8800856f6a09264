// internal/catalog/service.go
package catalog

import (
	"context"

	"libranexus/pkg/projection"
)

// Service is the catalog write/read facade consumed by Handler and by
// cmd/catalog's wiring.
type Service interface {
	AddBook(ctx context.Context, isbn, title, author, publisher string, publicationYear int, retailPrice float64, totalCopies int) (*Book, error)
	UpdateBook(ctx context.Context, id string, patch BookUpdated) (*Book, error)
	RemoveBook(ctx context.Context, id string) error
	ChangeCopies(ctx context.Context, id string, total, available int) (*Book, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context, page, limit int) (projection.Page[Book], error)
	Search(ctx context.Context, query string) ([]Book, error)
}
