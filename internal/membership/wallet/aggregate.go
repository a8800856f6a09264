// internal/membership/wallet/aggregate.go
package wallet

import (
	"encoding/json"
	"log"

	"libranexus/pkg/aggregate"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

// Aggregate is the write-side Wallet: credit/debit commands guarded
// against a negative balance, plus the fold that reconstructs Wallet
// from WALLET_* events.
type Aggregate struct {
	aggregate.Root
	state Wallet
}

// New validates props and raises WALLET_CREATED at version 1 with a zero
// balance.
func New(id, memberID string) (*Aggregate, error) {
	if memberID == "" {
		return nil, apperror.New(apperror.CodeValidation, "memberId is required", nil)
	}

	w := &Aggregate{Root: aggregate.Root{ID: id}}
	e, err := w.Raise(EventWalletCreated, 1, WalletCreated{MemberID: memberID})
	if err != nil {
		return nil, err
	}
	w.state = Wallet{ID: id, MemberID: memberID, Balance: 0, Version: e.Version}
	return w, nil
}

// Rehydrate reconstructs an Aggregate by folding a version-ordered event
// stream.
func Rehydrate(events []eventstore.DomainEvent) (*Aggregate, error) {
	w := &Aggregate{}
	if err := aggregate.Rehydrate(&w.Root, w, events); err != nil {
		return nil, err
	}
	return w, nil
}

// State returns the current in-memory projection.
func (w *Aggregate) State() Wallet { return w.state }

// Credit raises WALLET_CREDITED, increasing the balance.
func (w *Aggregate) Credit(amount float64, reason string) error {
	if amount <= 0 {
		return apperror.New(apperror.CodeValidation, "credit amount must be positive", nil)
	}
	e, err := w.Raise(EventWalletCredited, 1, WalletCredited{Amount: amount, Reason: reason})
	if err != nil {
		return err
	}
	w.state.Balance += amount
	w.state.Version = e.Version
	return nil
}

// Debit raises WALLET_DEBITED, decreasing the balance. Rejected with
// VALIDATION_ERROR if the balance would go negative — the choreography
// layer translates that rejection into a RESERVATION_PAYMENT_DECLINED
// event rather than retrying.
func (w *Aggregate) Debit(amount float64, reservationID string) error {
	if amount <= 0 {
		return apperror.New(apperror.CodeValidation, "debit amount must be positive", nil)
	}
	if w.state.Balance < amount {
		return apperror.New(apperror.CodeValidation, "insufficient wallet balance", nil)
	}
	e, err := w.Raise(EventWalletDebited, 1, WalletDebited{Amount: amount, ReservationID: reservationID})
	if err != nil {
		return err
	}
	w.state.Balance -= amount
	w.state.Version = e.Version
	return nil
}

// ApplyEvent folds a single event into state. Pure and total over every
// known EventType; unknown types are logged and ignored.
func (w *Aggregate) ApplyEvent(e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventWalletCreated:
		var p WalletCreated
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		w.state = Wallet{ID: e.AggregateID, MemberID: p.MemberID, Balance: 0, CreatedAt: e.Timestamp, UpdatedAt: e.Timestamp}
	case EventWalletCredited:
		var p WalletCredited
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		w.state.Balance += p.Amount
	case EventWalletDebited:
		var p WalletDebited
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		w.state.Balance -= p.Amount
	default:
		log.Printf("wallet: ignoring unknown event type %q on aggregate %s", e.EventType, e.AggregateID)
	}
	w.state.Version = e.Version
	w.state.UpdatedAt = e.Timestamp
	return nil
}
