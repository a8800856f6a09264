package choreography

import (
	"context"
	"encoding/json"

	"libranexus/internal/circulation"
	"libranexus/internal/membership"
	"libranexus/internal/membership/wallet"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
)

// RegisterWalletProvisioningHandlers subscribes the wallet service to new
// member registration, opening a zero-balance wallet for every member so
// the payment step always has one to debit.
func RegisterWalletProvisioningHandlers(bus *eventbus.Bus, wallets wallet.Service) error {
	return bus.Subscribe(membership.EventMemberRegistered, func(ctx context.Context, e eventstore.DomainEvent) error {
		_, err := wallets.OpenWallet(ctx, e.AggregateID)
		return err
	})
}

// RegisterWalletHandlers subscribes the membership/wallet service to
// reservations entering PENDING_PAYMENT. The event itself carries the
// memberId/retailPrice the debit needs, so the wallet service never reads
// circulation's own store. WALLET_DEBITED (published by wallet.Aggregate's
// own commit path) signals success; insufficient balance publishes
// RESERVATION_PAYMENT_DECLINED instead.
func RegisterWalletHandlers(bus *eventbus.Bus, wallets wallet.Service) error {
	return bus.Subscribe(EventReservationPendingPayment, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload ReservationPendingPaymentPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}

		_, err := wallets.Debit(ctx, payload.MemberID, payload.RetailPrice, e.AggregateID)
		if apperror.Is(err, apperror.CodeValidation) {
			declined := PaymentDeclined{ReservationID: e.AggregateID, Reason: err.Error()}
			event, buildErr := eventstore.NewEvent(e.AggregateID, EventReservationPaymentDeclined, 1, declined)
			if buildErr != nil {
				return buildErr
			}
			return bus.Publish(ctx, event)
		}
		return err
	})
}

// RegisterReservationPaymentHandlers subscribes circulation to the outcome
// of a wallet debit: WALLET_DEBITED confirms the reservation, a declined
// payment rejects it.
func RegisterReservationPaymentHandlers(bus *eventbus.Bus, reservations circulation.Service) error {
	if err := bus.Subscribe(EventWalletDebited, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload WalletDebitedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if payload.ReservationID == "" {
			return nil
		}
		_, err := reservations.Confirm(ctx, payload.ReservationID)
		return err
	}); err != nil {
		return err
	}

	return bus.Subscribe(EventReservationPaymentDeclined, func(ctx context.Context, e eventstore.DomainEvent) error {
		var payload PaymentDeclined
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		_, err := reservations.Reject(ctx, payload.ReservationID, payload.Reason)
		return err
	})
}
