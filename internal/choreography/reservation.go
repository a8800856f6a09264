package choreography

import (
	"context"
	"encoding/json"

	"libranexus/internal/circulation"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
)

// RegisterReservationHandlers subscribes circulation to the book
// validation outcome: success stamps the retail price and moves the
// reservation to PENDING_PAYMENT; failure rejects it outright.
func RegisterReservationHandlers(bus *eventbus.Bus, reservations circulation.Service) error {
	if err := bus.Subscribe(EventBookValidationResult, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload BookValidationResult
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if _, err := reservations.UpdateRetailPrice(ctx, payload.ReservationID, payload.RetailPrice); err != nil {
			return err
		}
		_, err := reservations.MarkPendingPayment(ctx, payload.ReservationID)
		return err
	}); err != nil {
		return err
	}

	if err := bus.Subscribe(EventReservationBookValidationFailed, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload BookValidationFailed
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := reservations.Reject(ctx, payload.ReservationID, payload.Reason)
		return err
	}); err != nil {
		return err
	}

	return RegisterReservationPaymentHandlers(bus, reservations)
}
