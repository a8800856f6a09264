// internal/membership/wallet/service.go
package wallet

import "context"

// Service is the wallet command/query surface used directly by the
// members HTTP API and, more often, by the choreography layer, which opens
// wallets on MEMBER_REGISTERED and debits them on RESERVATION_PENDING_PAYMENT.
type Service interface {
	OpenWallet(ctx context.Context, memberID string) (Wallet, error)
	Credit(ctx context.Context, memberID string, amount float64, reason string) (Wallet, error)
	Debit(ctx context.Context, memberID string, amount float64, reservationID string) (Wallet, error)
	GetByMemberID(ctx context.Context, memberID string) (Wallet, error)
}
