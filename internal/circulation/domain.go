// internal/circulation/domain.go
//
// Package circulation implements the Reservation aggregate: the state
// machine coordinating a library reservation across book validation,
// payment, and return, plus its read-model projection.
package circulation

import "time"

// Status values for the Reservation state machine.
const (
	StatusCreated        = "CREATED"
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusReserved       = "RESERVED"
	StatusBorrowed       = "BORROWED"
	StatusLate           = "LATE"
	StatusReturned       = "RETURNED"
	StatusCancelled      = "CANCELLED"
	StatusRejected       = "REJECTED"
	StatusBought         = "BOUGHT"
)

// Reservation is the in-memory, reconstructable state of one reservation.
type Reservation struct {
	ID              string
	BookID          string
	MemberID        string
	Status          string
	RetailPrice     float64
	DueDate         time.Time
	DaysLate        int
	LateFeeApplied  float64
	RejectionReason string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Event type discriminators — also the bus routing keys.
const (
	EventReservationCreated            = "RESERVATION_CREATED"
	EventReservationPendingPayment     = "RESERVATION_PENDING_PAYMENT"
	EventReservationConfirmed          = "RESERVATION_CONFIRMED"
	EventReservationRejected           = "RESERVATION_REJECTED"
	EventReservationRetailPriceUpdated = "RESERVATION_RETAIL_PRICE_UPDATED"
	EventReservationBorrowed           = "RESERVATION_BORROWED"
	EventReservationMarkedLate         = "RESERVATION_MARKED_LATE"
	EventReservationReturned           = "RESERVATION_RETURNED"
	EventReservationBookBrought        = "RESERVATION_BOOK_BROUGHT"
	EventReservationCancelled          = "RESERVATION_CANCELLED"

	// Choreography request/result events (not state-transition events
	// themselves — consumed/produced by internal/choreography).
	EventReservationBookValidation       = "RESERVATION_BOOK_VALIDATION"
	EventReservationBookValidationFailed = "RESERVATION_BOOK_VALIDATION_FAILED"
	EventBookValidationResult            = "BOOK_VALIDATION_RESULT"
)

// ReservationCreated is the *_CREATED payload.
type ReservationCreated struct {
	BookID   string `json:"bookId"`
	MemberID string `json:"memberId"`
}

// ReservationPendingPayment denormalizes the fields the payment
// choreography needs so it never has to read circulation's own store.
type ReservationPendingPayment struct {
	MemberID    string  `json:"memberId"`
	RetailPrice float64 `json:"retailPrice"`
}

// ReservationRejected carries why the reservation could not proceed.
type ReservationRejected struct {
	Reason string `json:"reason"`
}

// ReservationRetailPriceUpdated is a commutative, narrow update applied
// once book validation resolves the book's price.
type ReservationRetailPriceUpdated struct {
	RetailPrice float64 `json:"retailPrice"`
}

// ReservationReturned carries the computed late-fee inputs; daysLate=0 and
// lateFeeApplied=0 on an on-time return.
type ReservationReturned struct {
	DaysLate       int     `json:"daysLate"`
	LateFeeApplied float64 `json:"lateFeeApplied"`
}

// ReservationBookBrought is raised by the choreography layer — never
// directly by a user command — when accumulated late fees reach or exceed
// the book's retail price.
type ReservationBookBrought struct {
	Message string `json:"message"`
}

// empty marker payloads for transitions with no additional fields.
type noPayload struct{}
