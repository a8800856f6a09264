package catalog

import (
	"context"
	"fmt"

	"github.com/meilisearch/meilisearch-go"
)

const searchIndexUID = "books"

// SearchIndex wraps a Meilisearch index kept in sync from the books
// projection, replacing Postgres to_tsvector/to_tsquery search with the
// dedicated index library this domain's stack already depends on.
type SearchIndex struct {
	client meilisearch.ServiceManager
}

// NewSearchIndex builds a client for host (e.g. "http://localhost:7700")
// with apiKey. It does not contact the server; EnsureIndex configures the
// searchable/filterable attributes.
func NewSearchIndex(host, apiKey string) *SearchIndex {
	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))
	return &SearchIndex{client: client}
}

// EnsureIndex configures the books index's searchable attributes. Safe to
// call repeatedly; Meilisearch settings updates are idempotent.
func (s *SearchIndex) EnsureIndex(ctx context.Context) error {
	idx := s.client.Index(searchIndexUID)
	_, err := idx.UpdateSearchableAttributes(&[]string{"title", "author", "isbn", "publisher"})
	if err != nil {
		return fmt.Errorf("search: configure searchable attributes: %w", err)
	}
	_, err = idx.UpdateFilterableAttributes(&[]string{"isDeleted"})
	if err != nil {
		return fmt.Errorf("search: configure filterable attributes: %w", err)
	}
	return nil
}

// searchDoc is the flattened document shape indexed per book.
type searchDoc struct {
	ID        string  `json:"id"`
	ISBN      string  `json:"isbn"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Publisher string  `json:"publisher"`
	Price     float64 `json:"price"`
	IsDeleted bool    `json:"isDeleted"`
}

// Index upserts book into the search index. Called by the projector
// alongside ApplyEvent so the index never drifts from the books table.
func (s *SearchIndex) Index(ctx context.Context, b Book) error {
	doc := searchDoc{
		ID: b.ID, ISBN: b.ISBN, Title: b.Title, Author: b.Author,
		Publisher: b.Publisher, Price: b.RetailPrice, IsDeleted: b.IsDeleted,
	}
	_, err := s.client.Index(searchIndexUID).AddDocuments([]searchDoc{doc}, nil)
	if err != nil {
		return fmt.Errorf("search: index document %s: %w", b.ID, err)
	}
	return nil
}

// Search runs a free-text query, returning up to limit matching book ids
// in relevance order. Callers join results back against the books
// projection for the authoritative row.
func (s *SearchIndex) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	result, err := s.client.Index(searchIndexUID).Search(query, &meilisearch.SearchRequest{
		Limit:  int64(limit),
		Filter: "isDeleted = false",
	})
	if err != nil {
		return nil, fmt.Errorf("search: query %q: %w", query, err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		m, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		if id, ok := m["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
