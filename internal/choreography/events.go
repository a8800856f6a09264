// Package choreography wires the three independently-deployable
// services — catalog, circulation, membership/wallet — together through
// pkg/eventbus instead of direct calls: book validation, payment, and the
// late-fee/book-brought resolution each live here as a pair of
// publish/subscribe reactions rather than a saga coordinator.
package choreography

// Event types the choreography handlers publish or subscribe to.
// RESERVATION_CREATED, RESERVATION_PENDING_PAYMENT and RESERVATION_RETURNED
// are raised by the circulation Reservation aggregate and WALLET_DEBITED by
// the wallet aggregate; BOOK_VALIDATION_RESULT,
// RESERVATION_BOOK_VALIDATION_FAILED and RESERVATION_PAYMENT_DECLINED are
// notifications that belong to no aggregate.
const (
	EventReservationCreated              = "RESERVATION_CREATED"
	EventReservationPendingPayment       = "RESERVATION_PENDING_PAYMENT"
	EventReservationReturned             = "RESERVATION_RETURNED"
	EventBookValidationResult            = "BOOK_VALIDATION_RESULT"
	EventReservationBookValidationFailed = "RESERVATION_BOOK_VALIDATION_FAILED"
	EventWalletDebited                   = "WALLET_DEBITED"
	EventReservationPaymentDeclined      = "RESERVATION_PAYMENT_DECLINED"
)

// ReservationCreatedPayload mirrors circulation.ReservationCreated without
// importing internal/circulation from the catalog-side handler.
type ReservationCreatedPayload struct {
	BookID   string `json:"bookId"`
	MemberID string `json:"memberId"`
}

// ReservationPendingPaymentPayload mirrors circulation.ReservationPendingPayment.
type ReservationPendingPaymentPayload struct {
	MemberID    string  `json:"memberId"`
	RetailPrice float64 `json:"retailPrice"`
}

// ReservationReturnedPayload mirrors circulation.ReservationReturned.
type ReservationReturnedPayload struct {
	DaysLate       int     `json:"daysLate"`
	LateFeeApplied float64 `json:"lateFeeApplied"`
}

// BookValidationResult is published by catalog once it confirms a book
// exists and has an available copy.
type BookValidationResult struct {
	ReservationID string  `json:"reservationId"`
	BookID        string  `json:"bookId"`
	RetailPrice   float64 `json:"retailPrice"`
}

// BookValidationFailed is published by catalog when the book does not
// exist or has no available copies.
type BookValidationFailed struct {
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`
}

// WalletDebitedPayload mirrors wallet.WalletDebited.
type WalletDebitedPayload struct {
	Amount        float64 `json:"amount"`
	ReservationID string  `json:"reservationId"`
}

// PaymentDeclined is published by membership when a wallet debit is
// rejected for insufficient balance.
type PaymentDeclined struct {
	ReservationID string `json:"reservationId"`
	Reason        string `json:"reason"`
}
