// internal/membership/wallet/implementation.go
package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
)

// service implements Service over the event store and the wallets
// projection, publishing every raised event onto the bus.
type service struct {
	store      *eventstore.Store
	projection *Projection
	bus        *eventbus.Bus
}

// NewService wires a wallet Service from its storage/bus collaborators.
func NewService(store *eventstore.Store, proj *Projection, bus *eventbus.Bus) Service {
	return &service{store: store, projection: proj, bus: bus}
}

func (s *service) OpenWallet(ctx context.Context, memberID string) (Wallet, error) {
	if existing, err := s.projection.GetByMemberID(ctx, memberID); err != nil {
		return Wallet{}, fmt.Errorf("wallet: lookup member %s: %w", memberID, err)
	} else if existing != nil {
		return *existing, nil
	}

	id := uuid.NewString()
	agg, err := New(id, memberID)
	if err != nil {
		return Wallet{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Wallet{}, err
	}
	return agg.State(), nil
}

func (s *service) Credit(ctx context.Context, memberID string, amount float64, reason string) (Wallet, error) {
	agg, err := s.loadByMember(ctx, memberID)
	if err != nil {
		return Wallet{}, err
	}
	if err := agg.Credit(amount, reason); err != nil {
		return Wallet{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Wallet{}, err
	}
	return agg.State(), nil
}

func (s *service) Debit(ctx context.Context, memberID string, amount float64, reservationID string) (Wallet, error) {
	agg, err := s.loadByMember(ctx, memberID)
	if err != nil {
		return Wallet{}, err
	}
	if err := agg.Debit(amount, reservationID); err != nil {
		return Wallet{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Wallet{}, err
	}
	return agg.State(), nil
}

func (s *service) GetByMemberID(ctx context.Context, memberID string) (Wallet, error) {
	w, err := s.projection.GetByMemberID(ctx, memberID)
	if err != nil {
		return Wallet{}, fmt.Errorf("wallet: get by member %s: %w", memberID, err)
	}
	if w == nil {
		return Wallet{}, apperror.New(apperror.CodeNotFound, "wallet not found", nil)
	}
	return *w, nil
}

func (s *service) loadByMember(ctx context.Context, memberID string) (*Aggregate, error) {
	w, err := s.projection.GetByMemberID(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("wallet: lookup member %s: %w", memberID, err)
	}
	if w == nil {
		return nil, apperror.New(apperror.CodeNotFound, "wallet not found", nil)
	}
	events, err := s.store.GetEventsForAggregate(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("wallet: load events for %s: %w", w.ID, err)
	}
	return Rehydrate(events)
}

// commit persists the aggregate's uncommitted events with bounded retry,
// applies them to the projection, and publishes them on the bus.
func (s *service) commit(ctx context.Context, agg *Aggregate) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := agg.Version - len(events)
	if err := s.store.AppendBatch(ctx, agg.ID, events, expectedVersion); err != nil {
		return fmt.Errorf("wallet: append events for %s: %w", agg.ID, err)
	}
	agg.Commit()

	for _, e := range events {
		if err := s.projection.ApplyEvent(ctx, e); err != nil {
			return fmt.Errorf("wallet: project event %s for %s: %w", e.EventType, agg.ID, err)
		}
		if s.bus != nil {
			if err := s.bus.Publish(ctx, e); err != nil {
				return fmt.Errorf("wallet: publish %s for %s: %w", e.EventType, agg.ID, err)
			}
		}
	}
	return nil
}
