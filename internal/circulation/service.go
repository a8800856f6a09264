// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"libranexus/pkg/projection"
)

// Service is the circulation command/query surface: creating a
// reservation and driving it through the state machine in domain.go.
type Service interface {
	CreateReservation(ctx context.Context, bookID, memberID string) (Reservation, error)
	MarkPendingPayment(ctx context.Context, id string) (Reservation, error)
	Confirm(ctx context.Context, id string) (Reservation, error)
	Reject(ctx context.Context, id, reason string) (Reservation, error)
	UpdateRetailPrice(ctx context.Context, id string, price float64) (Reservation, error)
	MarkBorrowed(ctx context.Context, id string, dueDate time.Time) (Reservation, error)
	MarkLate(ctx context.Context, id string) (Reservation, error)
	Cancel(ctx context.Context, id string) (Reservation, error)
	Return(ctx context.Context, id string, now time.Time, perDayFee float64) (Reservation, error)
	MarkBookBrought(ctx context.Context, id, message string) (Reservation, error)

	GetReservation(ctx context.Context, id string) (Reservation, error)
	ListByMember(ctx context.Context, memberID string, page, limit int) (projection.Page[Reservation], error)
}
