// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
	"libranexus/pkg/projection"
)

// service implements Service over the event store, the reservations
// projection, publishing every raised event onto the bus so the
// choreography layer can drive book validation, payment, and fee
// resolution.
type service struct {
	store      *eventstore.Store
	projection *Projection
	bus        *eventbus.Bus
}

// NewService wires a circulation Service from its storage/bus collaborators.
func NewService(store *eventstore.Store, proj *Projection, bus *eventbus.Bus) Service {
	return &service{store: store, projection: proj, bus: bus}
}

func (s *service) CreateReservation(ctx context.Context, bookID, memberID string) (Reservation, error) {
	id := uuid.NewString()
	agg, err := NewReservation(id, bookID, memberID)
	if err != nil {
		return Reservation{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Reservation{}, err
	}
	return agg.State(), nil
}

func (s *service) MarkPendingPayment(ctx context.Context, id string) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.MarkPendingPayment() })
}

func (s *service) Confirm(ctx context.Context, id string) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.Confirm() })
}

func (s *service) Reject(ctx context.Context, id, reason string) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.Reject(reason) })
}

func (s *service) UpdateRetailPrice(ctx context.Context, id string, price float64) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.UpdateRetailPrice(price) })
}

func (s *service) MarkBorrowed(ctx context.Context, id string, dueDate time.Time) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.MarkBorrowed(dueDate) })
}

func (s *service) MarkLate(ctx context.Context, id string) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.MarkLate() })
}

func (s *service) Cancel(ctx context.Context, id string) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.Cancel() })
}

func (s *service) Return(ctx context.Context, id string, now time.Time, perDayFee float64) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.Return(now, perDayFee) })
}

func (s *service) MarkBookBrought(ctx context.Context, id, message string) (Reservation, error) {
	return s.mutate(ctx, id, func(agg *ReservationAggregate) error { return agg.MarkBookBrought(message) })
}

func (s *service) GetReservation(ctx context.Context, id string) (Reservation, error) {
	r, err := s.projection.GetByID(ctx, id, false)
	if err != nil {
		return Reservation{}, fmt.Errorf("circulation: get reservation %s: %w", id, err)
	}
	if r == nil {
		return Reservation{}, apperror.New(apperror.CodeNotFound, "reservation not found", nil)
	}
	return *r, nil
}

func (s *service) ListByMember(ctx context.Context, memberID string, page, limit int) (projection.Page[Reservation], error) {
	return s.projection.ListByMember(ctx, memberID, page, limit)
}

// mutate loads, applies cmd, and commits, returning the post-command state.
func (s *service) mutate(ctx context.Context, id string, cmd func(*ReservationAggregate) error) (Reservation, error) {
	agg, err := s.load(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if err := cmd(agg); err != nil {
		return Reservation{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Reservation{}, err
	}
	return agg.State(), nil
}

// load rehydrates a ReservationAggregate from its event stream.
func (s *service) load(ctx context.Context, id string) (*ReservationAggregate, error) {
	events, err := s.store.GetEventsForAggregate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("circulation: load events for %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, apperror.New(apperror.CodeNotFound, "reservation not found", nil)
	}
	return RehydrateReservation(events)
}

// commit persists the aggregate's uncommitted events with bounded retry,
// applies them to the projection, publishes them on the bus for the
// choreography layer, and commits the in-memory buffer.
func (s *service) commit(ctx context.Context, agg *ReservationAggregate) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := agg.Version - len(events)
	if err := s.store.AppendBatch(ctx, agg.ID, events, expectedVersion); err != nil {
		return fmt.Errorf("circulation: append events for %s: %w", agg.ID, err)
	}
	agg.Commit()

	for _, e := range events {
		if err := s.projection.ApplyEvent(ctx, e); err != nil {
			return fmt.Errorf("circulation: project event %s for %s: %w", e.EventType, agg.ID, err)
		}
		if s.bus != nil {
			if err := s.bus.Publish(ctx, e); err != nil {
				return fmt.Errorf("circulation: publish %s for %s: %w", e.EventType, agg.ID, err)
			}
		}
	}
	return nil
}
