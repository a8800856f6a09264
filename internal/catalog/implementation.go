// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// service implements Service over the event store, the books projection,
// and the search index, publishing every raised event onto the bus.
type service struct {
	store      *eventstore.Store
	projection *Projection
	search     *SearchIndex
	bus        *eventbus.Bus
}

// NewService wires a catalog Service from its storage/bus collaborators.
// search may be nil in environments without a configured search backend.
func NewService(store *eventstore.Store, proj *Projection, search *SearchIndex, bus *eventbus.Bus) Service {
	return &service{store: store, projection: proj, search: search, bus: bus}
}

func (s *service) AddBook(ctx context.Context, isbn, title, author, publisher string, publicationYear int, retailPrice float64, totalCopies int) (*Book, error) {
	id := uuid.NewString()
	agg, err := NewBook(id, isbn, title, author, publisher, publicationYear, retailPrice, totalCopies)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return nil, err
	}
	state := agg.State()
	return &state, nil
}

func (s *service) UpdateBook(ctx context.Context, id string, patch BookUpdated) (*Book, error) {
	agg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := agg.Update(patch); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return nil, err
	}
	state := agg.State()
	return &state, nil
}

func (s *service) RemoveBook(ctx context.Context, id string) error {
	agg, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := agg.Delete(); err != nil {
		return err
	}
	return s.commit(ctx, agg)
}

func (s *service) ChangeCopies(ctx context.Context, id string, total, available int) (*Book, error) {
	agg, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := agg.ChangeCopies(total, available); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return nil, err
	}
	state := agg.State()
	return &state, nil
}

func (s *service) GetBook(ctx context.Context, id string) (*Book, error) {
	b, err := s.projection.GetByID(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("catalog: get book %s: %w", id, err)
	}
	if b == nil {
		return nil, apperror.New(apperror.CodeNotFound, "book not found", nil)
	}
	return b, nil
}

func (s *service) ListBooks(ctx context.Context, page, limit int) (projection.Page[Book], error) {
	return s.projection.List(ctx, page, limit)
}

func (s *service) Search(ctx context.Context, query string) ([]Book, error) {
	if s.search == nil {
		return nil, apperror.New(apperror.CodeInternal, "search backend not configured", nil)
	}
	ids, err := s.search.Search(ctx, query, 10)
	if err != nil {
		return nil, err
	}
	books := make([]Book, 0, len(ids))
	for _, id := range ids {
		b, err := s.projection.GetByID(ctx, id, false)
		if err != nil || b == nil {
			continue
		}
		books = append(books, *b)
	}
	return books, nil
}

// load rehydrates a BookAggregate from its event stream.
func (s *service) load(ctx context.Context, id string) (*BookAggregate, error) {
	events, err := s.store.GetEventsForAggregate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("catalog: load events for %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, apperror.New(apperror.CodeNotFound, "book not found", nil)
	}
	return RehydrateBook(events)
}

// commit persists the aggregate's uncommitted events with bounded retry,
// applies them to the projection and search index, publishes them on the
// bus, and commits the in-memory buffer.
func (s *service) commit(ctx context.Context, agg *BookAggregate) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := agg.Version - len(events)
	if err := s.store.AppendBatch(ctx, agg.ID, events, expectedVersion); err != nil {
		return fmt.Errorf("catalog: append events for %s: %w", agg.ID, err)
	}
	agg.Commit()

	for _, e := range events {
		if err := s.projection.ApplyEvent(ctx, e); err != nil {
			return fmt.Errorf("catalog: project event %s for %s: %w", e.EventType, agg.ID, err)
		}
		if s.search != nil {
			if err := s.search.Index(ctx, agg.State()); err != nil {
				return fmt.Errorf("catalog: index %s: %w", agg.ID, err)
			}
		}
		if s.bus != nil {
			if err := s.bus.Publish(ctx, e); err != nil {
				return fmt.Errorf("catalog: publish %s for %s: %w", e.EventType, agg.ID, err)
			}
		}
	}
	return nil
}
