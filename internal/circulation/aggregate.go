package circulation

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"libranexus/pkg/aggregate"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

// ReservationAggregate is the write-side Reservation: a guarded command
// surface over aggregate.Root enforcing the state machine in spec.md
// §4.2.1, plus the fold that reconstructs Reservation from RESERVATION_*
// events.
type ReservationAggregate struct {
	aggregate.Root
	state Reservation
}

// NewReservation validates props and raises RESERVATION_CREATED at version 1.
func NewReservation(id, bookID, memberID string) (*ReservationAggregate, error) {
	if bookID == "" || memberID == "" {
		return nil, apperror.New(apperror.CodeValidation, "bookId and memberId are required", nil)
	}

	r := &ReservationAggregate{Root: aggregate.Root{ID: id}}
	e, err := r.Raise(EventReservationCreated, 1, ReservationCreated{BookID: bookID, MemberID: memberID})
	if err != nil {
		return nil, err
	}
	r.state = Reservation{ID: id, BookID: bookID, MemberID: memberID, Status: StatusCreated, Version: e.Version}
	return r, nil
}

// RehydrateReservation reconstructs a ReservationAggregate by folding a
// version-ordered event stream.
func RehydrateReservation(events []eventstore.DomainEvent) (*ReservationAggregate, error) {
	r := &ReservationAggregate{}
	if err := aggregate.Rehydrate(&r.Root, r, events); err != nil {
		return nil, err
	}
	return r, nil
}

// State returns the current in-memory projection.
func (r *ReservationAggregate) State() Reservation { return r.state }

// guard rejects a command whose current status is not among allowed,
// returning a VALIDATION_ERROR whose message names the target status. No
// distinct RESERVATION_CANNOT_BE_<TARGET> code is produced.
func (r *ReservationAggregate) guard(target string, allowed ...string) error {
	for _, s := range allowed {
		if r.state.Status == s {
			return nil
		}
	}
	return apperror.New(apperror.CodeValidation,
		fmt.Sprintf("reservation %s cannot be %s from status %s", r.ID, target, r.state.Status), nil)
}

// MarkPendingPayment: CREATED -> PENDING_PAYMENT. The event carries the
// memberId and retailPrice already known to the aggregate so the wallet
// service can debit without a cross-service read back to circulation.
func (r *ReservationAggregate) MarkPendingPayment() error {
	if err := r.guard("PENDING_PAYMENT", StatusCreated); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationPendingPayment, 1, ReservationPendingPayment{
		MemberID: r.state.MemberID, RetailPrice: r.state.RetailPrice,
	})
	if err != nil {
		return err
	}
	r.state.Status = StatusPendingPayment
	r.state.Version = e.Version
	return nil
}

// Confirm: PENDING_PAYMENT -> RESERVED.
func (r *ReservationAggregate) Confirm() error {
	if err := r.guard("CONFIRMED", StatusPendingPayment); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationConfirmed, 1, noPayload{})
	if err != nil {
		return err
	}
	r.state.Status = StatusReserved
	r.state.Version = e.Version
	return nil
}

// Reject: CREATED or PENDING_PAYMENT -> REJECTED.
func (r *ReservationAggregate) Reject(reason string) error {
	if err := r.guard("REJECTED", StatusCreated, StatusPendingPayment); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationRejected, 1, ReservationRejected{Reason: reason})
	if err != nil {
		return err
	}
	r.state.Status = StatusRejected
	r.state.RejectionReason = reason
	r.state.Version = e.Version
	return nil
}

// UpdateRetailPrice is commutative across delivery order: allowed any time
// before a terminal status, status unchanged. Book validation stamps the
// price onto the reservation before payment is attempted, which is why
// CREATED/PENDING_PAYMENT are accepted alongside RESERVED/BORROWED.
func (r *ReservationAggregate) UpdateRetailPrice(price float64) error {
	if err := r.guard("RETAIL_PRICE_UPDATED", StatusCreated, StatusPendingPayment, StatusReserved, StatusBorrowed, StatusLate); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationRetailPriceUpdated, 1, ReservationRetailPriceUpdated{RetailPrice: price})
	if err != nil {
		return err
	}
	r.state.RetailPrice = price
	r.state.Version = e.Version
	return nil
}

// MarkBorrowed: RESERVED -> BORROWED, set at physical pickup.
func (r *ReservationAggregate) MarkBorrowed(dueDate time.Time) error {
	if err := r.guard("BORROWED", StatusReserved); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationBorrowed, 1, struct {
		DueDate time.Time `json:"dueDate"`
	}{DueDate: dueDate})
	if err != nil {
		return err
	}
	r.state.Status = StatusBorrowed
	r.state.DueDate = dueDate
	r.state.Version = e.Version
	return nil
}

// MarkLate: BORROWED -> LATE, set once the due date has passed.
func (r *ReservationAggregate) MarkLate() error {
	if err := r.guard("LATE", StatusBorrowed); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationMarkedLate, 1, noPayload{})
	if err != nil {
		return err
	}
	r.state.Status = StatusLate
	r.state.Version = e.Version
	return nil
}

// Cancel: RESERVED, BORROWED, or LATE -> CANCELLED.
func (r *ReservationAggregate) Cancel() error {
	if err := r.guard("CANCELLED", StatusReserved, StatusBorrowed, StatusLate); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationCancelled, 1, noPayload{})
	if err != nil {
		return err
	}
	r.state.Status = StatusCancelled
	r.state.Version = e.Version
	return nil
}

// Return: RESERVED, BORROWED, or LATE -> RETURNED. daysLate/lateFeeApplied
// are computed here from dueDate/perDayFee but the BOUGHT downgrade (when
// accumulated fee reaches or exceeds retailPrice) is decided by the
// choreography layer via MarkBookBrought, not here.
func (r *ReservationAggregate) Return(now time.Time, perDayFee float64) error {
	if err := r.guard("RETURNED", StatusReserved, StatusBorrowed, StatusLate); err != nil {
		return err
	}

	daysLate := 0
	if !r.state.DueDate.IsZero() && now.After(r.state.DueDate) {
		daysLate = int(math.Floor(now.Sub(r.state.DueDate).Hours() / 24))
	}
	lateFee := math.Round(float64(daysLate)*perDayFee*100) / 100

	e, err := r.Raise(EventReservationReturned, 1, ReservationReturned{DaysLate: daysLate, LateFeeApplied: lateFee})
	if err != nil {
		return err
	}
	r.state.Status = StatusReturned
	r.state.DaysLate = daysLate
	r.state.LateFeeApplied = lateFee
	r.state.Version = e.Version
	return nil
}

// MarkBookBrought downgrades a just-completed RETURNED reservation to
// BOUGHT, raised only by the choreography layer once it determines the
// accumulated late fee reached or exceeded the book's retail price.
func (r *ReservationAggregate) MarkBookBrought(message string) error {
	if err := r.guard("BOUGHT", StatusReturned); err != nil {
		return err
	}
	e, err := r.Raise(EventReservationBookBrought, 1, ReservationBookBrought{Message: message})
	if err != nil {
		return err
	}
	r.state.Status = StatusBought
	r.state.Version = e.Version
	return nil
}

// ApplyEvent folds a single event into state. Pure and total over every
// known EventType; unknown types are logged and ignored.
func (r *ReservationAggregate) ApplyEvent(e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventReservationCreated:
		var p ReservationCreated
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		r.state = Reservation{
			ID: e.AggregateID, BookID: p.BookID, MemberID: p.MemberID, Status: StatusCreated,
			CreatedAt: e.Timestamp, UpdatedAt: e.Timestamp,
		}
	case EventReservationPendingPayment:
		r.state.Status = StatusPendingPayment
	case EventReservationConfirmed:
		r.state.Status = StatusReserved
	case EventReservationRejected:
		var p ReservationRejected
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		r.state.Status = StatusRejected
		r.state.RejectionReason = p.Reason
	case EventReservationRetailPriceUpdated:
		var p ReservationRetailPriceUpdated
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		r.state.RetailPrice = p.RetailPrice
	case EventReservationBorrowed:
		var p struct {
			DueDate time.Time `json:"dueDate"`
		}
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		r.state.Status = StatusBorrowed
		r.state.DueDate = p.DueDate
	case EventReservationMarkedLate:
		r.state.Status = StatusLate
	case EventReservationReturned:
		var p ReservationReturned
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		r.state.Status = StatusReturned
		r.state.DaysLate = p.DaysLate
		r.state.LateFeeApplied = p.LateFeeApplied
	case EventReservationBookBrought:
		r.state.Status = StatusBought
	case EventReservationCancelled:
		r.state.Status = StatusCancelled
	default:
		log.Printf("circulation: ignoring unknown event type %q on aggregate %s", e.EventType, e.AggregateID)
	}
	r.state.Version = e.Version
	r.state.UpdatedAt = e.Timestamp
	return nil
}
