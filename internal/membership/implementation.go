// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventbus"
	"libranexus/pkg/eventstore"
)

// service implements Service over the event store and the members
// projection, rate-limiting login (Authenticate) the way the teacher's
// original substrate did. Registration is not rate-limited.
type service struct {
	store        *eventstore.Store
	projection   *Projection
	bus          *eventbus.Bus
	loginLimiter *rate.Limiter
}

// NewService wires a membership Service from its storage/bus collaborators.
func NewService(store *eventstore.Store, proj *Projection, bus *eventbus.Bus) Service {
	return &service{
		store:        store,
		projection:   proj,
		bus:          bus,
		loginLimiter: rate.NewLimiter(rate.Every(time.Minute), 5),
	}
}

func (s *service) RegisterMember(ctx context.Context, email, name, password string) (Member, error) {
	id := uuid.NewString()
	agg, err := NewMember(id, email, name)
	if err != nil {
		return Member{}, err
	}

	passwordHash, salt, err := hashPassword(password)
	if err != nil {
		return Member{}, fmt.Errorf("membership: hash password: %w", err)
	}

	if err := s.commit(ctx, agg); err != nil {
		return Member{}, err
	}
	if err := s.projection.SaveCredential(ctx, id, passwordHash, salt); err != nil {
		return Member{}, fmt.Errorf("membership: save credential for %s: %w", id, err)
	}
	return agg.State(), nil
}

func (s *service) Authenticate(ctx context.Context, email, password string) (Member, error) {
	if !s.loginLimiter.Allow() {
		return Member{}, apperror.New(apperror.CodeRateLimited, "too many login attempts", nil)
	}

	member, err := s.projection.GetByEmail(ctx, email)
	if err != nil {
		return Member{}, fmt.Errorf("membership: lookup email: %w", err)
	}
	if member == nil {
		return Member{}, apperror.New(apperror.CodeUnauthorized, "invalid credentials", nil)
	}

	cred, err := s.projection.GetCredential(ctx, member.ID)
	if err != nil {
		return Member{}, fmt.Errorf("membership: lookup credential: %w", err)
	}
	if cred == nil {
		return Member{}, apperror.New(apperror.CodeUnauthorized, "invalid credentials", nil)
	}

	ok, err := verifyPassword(password, cred.Salt, cred.PasswordHash)
	if err != nil {
		return Member{}, fmt.Errorf("membership: verify password: %w", err)
	}
	if !ok {
		return Member{}, apperror.New(apperror.CodeUnauthorized, "invalid credentials", nil)
	}
	return *member, nil
}

func (s *service) GetMember(ctx context.Context, id string) (Member, error) {
	m, err := s.projection.GetByID(ctx, id)
	if err != nil {
		return Member{}, fmt.Errorf("membership: get member %s: %w", id, err)
	}
	if m == nil {
		return Member{}, apperror.New(apperror.CodeNotFound, "member not found", nil)
	}
	return *m, nil
}

func (s *service) UpdateMemberTier(ctx context.Context, id, newTier string) (Member, error) {
	agg, err := s.load(ctx, id)
	if err != nil {
		return Member{}, err
	}
	if err := agg.ChangeTier(newTier); err != nil {
		return Member{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Member{}, err
	}
	return agg.State(), nil
}

func (s *service) SuspendMember(ctx context.Context, id, reason string) (Member, error) {
	agg, err := s.load(ctx, id)
	if err != nil {
		return Member{}, err
	}
	if err := agg.Suspend(reason); err != nil {
		return Member{}, err
	}
	if err := s.commit(ctx, agg); err != nil {
		return Member{}, err
	}
	return agg.State(), nil
}

// load rehydrates a MemberAggregate from its event stream.
func (s *service) load(ctx context.Context, id string) (*MemberAggregate, error) {
	events, err := s.store.GetEventsForAggregate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("membership: load events for %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, apperror.New(apperror.CodeNotFound, "member not found", nil)
	}
	return RehydrateMember(events)
}

// commit persists the aggregate's uncommitted events, applies them to the
// projection, and publishes them on the bus.
func (s *service) commit(ctx context.Context, agg *MemberAggregate) error {
	events := agg.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	expectedVersion := agg.Version - len(events)
	if err := s.store.AppendBatch(ctx, agg.ID, events, expectedVersion); err != nil {
		return fmt.Errorf("membership: append events for %s: %w", agg.ID, err)
	}
	agg.Commit()

	for _, e := range events {
		if err := s.projection.ApplyEvent(ctx, e); err != nil {
			return fmt.Errorf("membership: project event %s for %s: %w", e.EventType, agg.ID, err)
		}
		if s.bus != nil {
			if err := s.bus.Publish(ctx, e); err != nil {
				return fmt.Errorf("membership: publish %s for %s: %w", e.EventType, agg.ID, err)
			}
		}
	}
	return nil
}
