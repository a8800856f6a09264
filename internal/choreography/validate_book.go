package choreography

import (
	"context"
	"encoding/json"
	"log"

	"libranexus/internal/catalog"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
)

// RegisterCatalogHandlers subscribes the catalog service to reservation
// creation: it resolves the book, checks availability, and publishes
// either BOOK_VALIDATION_RESULT or RESERVATION_BOOK_VALIDATION_FAILED.
func RegisterCatalogHandlers(bus *eventbus.Bus, books catalog.Service) error {
	return bus.Subscribe(EventReservationCreated, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload ReservationCreatedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}

		book, err := books.GetBook(ctx, payload.BookID)
		if apperror.Is(err, apperror.CodeNotFound) {
			return publishValidationFailed(ctx, bus, e.AggregateID, "book not found")
		}
		if err != nil {
			return err
		}
		if book.Available <= 0 {
			return publishValidationFailed(ctx, bus, e.AggregateID, "no copies available")
		}

		result := BookValidationResult{ReservationID: e.AggregateID, BookID: book.ID, RetailPrice: book.RetailPrice}
		event, err := eventstore.NewEvent(e.AggregateID, EventBookValidationResult, 1, result)
		if err != nil {
			return err
		}
		return bus.Publish(ctx, event)
	})
}

func publishValidationFailed(ctx context.Context, bus *eventbus.Bus, reservationID, reason string) error {
	log.Printf("choreography: book validation failed for reservation %s: %s", reservationID, reason)
	event, err := eventstore.NewEvent(reservationID, EventReservationBookValidationFailed, 1,
		BookValidationFailed{ReservationID: reservationID, Reason: reason})
	if err != nil {
		return err
	}
	return bus.Publish(ctx, event)
}
