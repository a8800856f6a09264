// internal/catalog/domain.go
//
// Package catalog implements the Book aggregate: event-sourced write side,
// version-fenced read-model projection, and a search index kept in sync
// from that projection.
package catalog

import "time"

// Book is the in-memory, reconstructable state of one catalog entry.
type Book struct {
	ID              string
	ISBN            string
	Title           string
	Author          string
	Publisher       string
	PublicationYear int
	RetailPrice     float64
	TotalCopies     int
	Available       int
	IsDeleted       bool
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Event type discriminators — also the bus routing keys.
const (
	EventBookCreated        = "BOOK_CREATED"
	EventBookUpdated        = "BOOK_UPDATED"
	EventBookDeleted        = "BOOK_DELETED"
	EventBookRetailPriceSet = "BOOK_RETAIL_PRICE_SET"
	EventBookCopiesChanged  = "BOOK_COPIES_CHANGED"
)

// BookCreated is the *_CREATED payload; rehydrate requires this shape be
// the first event in every Book stream.
type BookCreated struct {
	ISBN            string  `json:"isbn"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Publisher       string  `json:"publisher,omitempty"`
	PublicationYear int     `json:"publicationYear,omitempty"`
	RetailPrice     float64 `json:"price"`
	TotalCopies     int     `json:"totalCopies"`
}

// BookUpdated carries only the fields that changed.
type BookUpdated struct {
	Title           *string  `json:"title,omitempty"`
	Author          *string  `json:"author,omitempty"`
	Publisher       *string  `json:"publisher,omitempty"`
	PublicationYear *int     `json:"publicationYear,omitempty"`
	RetailPrice     *float64 `json:"price,omitempty"`
}

// BookDeleted marks the book retired; no fields beyond the envelope.
type BookDeleted struct{}

// BookRetailPriceSet is a narrower update that changes only the retail
// price. It is raised by BookAggregate.SetRetailPrice, which no service
// method or choreography handler calls.
type BookRetailPriceSet struct {
	RetailPrice float64 `json:"price"`
}

// BookCopiesChanged adjusts total/available copy counts, e.g. from
// acquisitions or loss write-offs.
type BookCopiesChanged struct {
	TotalCopies int `json:"totalCopies"`
	Available   int `json:"available"`
}
