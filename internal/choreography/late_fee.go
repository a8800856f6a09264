package choreography

import (
	"context"
	"encoding/json"
	"fmt"

	"libranexus/internal/circulation"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
)

// RegisterLateFeeHandlers subscribes circulation to its own RETURNED
// transitions: when the accumulated late fee reaches or exceeds the
// book's retail price (stamped on the reservation by book validation),
// the reservation is downgraded from RETURNED to BOUGHT.
func RegisterLateFeeHandlers(bus *eventbus.Bus, reservations circulation.Service) error {
	return bus.Subscribe(EventReservationReturned, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload ReservationReturnedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if payload.LateFeeApplied <= 0 {
			return nil
		}

		reservation, err := reservations.GetReservation(ctx, e.AggregateID)
		if err != nil {
			return err
		}
		if reservation.RetailPrice <= 0 || payload.LateFeeApplied < reservation.RetailPrice {
			return nil
		}

		message := fmt.Sprintf("Book considered brought due to high late fees of %.2f.", payload.LateFeeApplied)
		_, err = reservations.MarkBookBrought(ctx, e.AggregateID, message)
		return err
	})
}
