package catalog

import (
	"encoding/json"
	"log"

	"libranexus/pkg/aggregate"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

// BookAggregate is the write-side Book: a command surface over aggregate.Root
// producing BOOK_* events, plus the fold that reconstructs Book from them.
type BookAggregate struct {
	aggregate.Root
	state Book
}

// NewBook validates props and raises BOOK_CREATED at version 1.
func NewBook(id, isbn, title, author, publisher string, publicationYear int, retailPrice float64, totalCopies int) (*BookAggregate, error) {
	if isbn == "" || title == "" || author == "" {
		return nil, apperror.New(apperror.CodeValidation, "isbn, title, and author are required", nil)
	}
	if totalCopies < 0 {
		return nil, apperror.New(apperror.CodeValidation, "totalCopies must be >= 0", nil)
	}
	if retailPrice < 0 {
		return nil, apperror.New(apperror.CodeValidation, "price must be >= 0", nil)
	}

	b := &BookAggregate{Root: aggregate.Root{ID: id}}
	_, err := b.Raise(EventBookCreated, 1, BookCreated{
		ISBN: isbn, Title: title, Author: author, Publisher: publisher,
		PublicationYear: publicationYear, RetailPrice: retailPrice, TotalCopies: totalCopies,
	})
	if err != nil {
		return nil, err
	}
	b.state = Book{
		ID: id, ISBN: isbn, Title: title, Author: author, Publisher: publisher,
		PublicationYear: publicationYear, RetailPrice: retailPrice,
		TotalCopies: totalCopies, Available: totalCopies, Version: 1,
	}
	return b, nil
}

// RehydrateBook reconstructs a BookAggregate by folding a version-ordered
// event stream.
func RehydrateBook(events []eventstore.DomainEvent) (*BookAggregate, error) {
	b := &BookAggregate{}
	if err := aggregate.Rehydrate(&b.Root, b, events); err != nil {
		return nil, err
	}
	return b, nil
}

// State returns the current read-only projection of in-memory state.
func (b *BookAggregate) State() Book { return b.state }

// Update applies a partial patch. Deleted books cannot be updated.
func (b *BookAggregate) Update(patch BookUpdated) error {
	if b.state.IsDeleted {
		return apperror.New(apperror.CodeAlreadyDeleted, "book already deleted", nil)
	}
	e, err := b.Raise(EventBookUpdated, 1, patch)
	if err != nil {
		return err
	}
	b.applyBookUpdated(patch)
	b.state.Version = e.Version
	return nil
}

// Delete retires the book. Deleting twice is rejected, not a silent no-op,
// so callers see ALREADY_DELETED rather than a spuriously accepted command.
func (b *BookAggregate) Delete() error {
	if b.state.IsDeleted {
		return apperror.New(apperror.CodeAlreadyDeleted, "book already deleted", nil)
	}
	e, err := b.Raise(EventBookDeleted, 1, BookDeleted{})
	if err != nil {
		return err
	}
	b.state.IsDeleted = true
	b.state.Version = e.Version
	return nil
}

// SetRetailPrice raises a narrow, single-field update. No service method or
// choreography handler calls it.
func (b *BookAggregate) SetRetailPrice(price float64) error {
	if b.state.IsDeleted {
		return apperror.New(apperror.CodeAlreadyDeleted, "book already deleted", nil)
	}
	if price < 0 {
		return apperror.New(apperror.CodeValidation, "price must be >= 0", nil)
	}
	e, err := b.Raise(EventBookRetailPriceSet, 1, BookRetailPriceSet{RetailPrice: price})
	if err != nil {
		return err
	}
	b.state.RetailPrice = price
	b.state.Version = e.Version
	return nil
}

// ChangeCopies adjusts total/available copy counts.
func (b *BookAggregate) ChangeCopies(total, available int) error {
	if b.state.IsDeleted {
		return apperror.New(apperror.CodeAlreadyDeleted, "book already deleted", nil)
	}
	if total < 0 || available < 0 || available > total {
		return apperror.New(apperror.CodeValidation, "invalid copy counts", nil)
	}
	e, err := b.Raise(EventBookCopiesChanged, 1, BookCopiesChanged{TotalCopies: total, Available: available})
	if err != nil {
		return err
	}
	b.state.TotalCopies = total
	b.state.Available = available
	b.state.Version = e.Version
	return nil
}

// ApplyEvent folds a single event into state. Pure and total over every
// known EventType; unknown types are logged and ignored.
func (b *BookAggregate) ApplyEvent(e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventBookCreated:
		var p BookCreated
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		b.state = Book{
			ID: e.AggregateID, ISBN: p.ISBN, Title: p.Title, Author: p.Author,
			Publisher: p.Publisher, PublicationYear: p.PublicationYear,
			RetailPrice: p.RetailPrice, TotalCopies: p.TotalCopies, Available: p.TotalCopies,
			CreatedAt: e.Timestamp, UpdatedAt: e.Timestamp,
		}
	case EventBookUpdated:
		var p BookUpdated
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		b.applyBookUpdated(p)
	case EventBookDeleted:
		b.state.IsDeleted = true
	case EventBookRetailPriceSet:
		var p BookRetailPriceSet
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		b.state.RetailPrice = p.RetailPrice
	case EventBookCopiesChanged:
		var p BookCopiesChanged
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		b.state.TotalCopies = p.TotalCopies
		b.state.Available = p.Available
	default:
		log.Printf("catalog: ignoring unknown event type %q on aggregate %s", e.EventType, e.AggregateID)
	}
	b.state.Version = e.Version
	b.state.UpdatedAt = e.Timestamp
	return nil
}

func (b *BookAggregate) applyBookUpdated(p BookUpdated) {
	if p.Title != nil {
		b.state.Title = *p.Title
	}
	if p.Author != nil {
		b.state.Author = *p.Author
	}
	if p.Publisher != nil {
		b.state.Publisher = *p.Publisher
	}
	if p.PublicationYear != nil {
		b.state.PublicationYear = *p.PublicationYear
	}
	if p.RetailPrice != nil {
		b.state.RetailPrice = *p.RetailPrice
	}
}
