// internal/membership/aggregate.go
package membership

import (
	"encoding/json"
	"log"

	"libranexus/pkg/aggregate"
	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

// MemberAggregate is the write-side Member: registration and tier/status
// changes, plus the fold that reconstructs Member from MEMBER_* events.
type MemberAggregate struct {
	aggregate.Root
	state Member
}

// NewMember validates props and raises MEMBER_REGISTERED at version 1.
func NewMember(id, email, name string) (*MemberAggregate, error) {
	if email == "" || name == "" {
		return nil, apperror.New(apperror.CodeValidation, "email and name are required", nil)
	}

	m := &MemberAggregate{Root: aggregate.Root{ID: id}}
	e, err := m.Raise(EventMemberRegistered, 1, MemberRegistered{Email: email, Name: name})
	if err != nil {
		return nil, err
	}
	m.state = Member{
		ID: id, Email: email, Name: name, MembershipTier: "basic", Status: "active",
		ExpiresAt: e.Timestamp.AddDate(1, 0, 0), Version: e.Version,
	}
	return m, nil
}

// RehydrateMember reconstructs a MemberAggregate by folding a
// version-ordered event stream.
func RehydrateMember(events []eventstore.DomainEvent) (*MemberAggregate, error) {
	m := &MemberAggregate{}
	if err := aggregate.Rehydrate(&m.Root, m, events); err != nil {
		return nil, err
	}
	return m, nil
}

// State returns the current in-memory projection.
func (m *MemberAggregate) State() Member { return m.state }

// ChangeTier raises MEMBER_TIER_CHANGED.
func (m *MemberAggregate) ChangeTier(newTier string) error {
	if newTier == "" {
		return apperror.New(apperror.CodeValidation, "newTier is required", nil)
	}
	e, err := m.Raise(EventMemberTierChanged, 1, MemberTierChanged{NewTier: newTier})
	if err != nil {
		return err
	}
	m.state.MembershipTier = newTier
	m.state.Version = e.Version
	return nil
}

// Suspend raises MEMBER_SUSPENDED, making the member ineligible for new
// reservations until reinstated out of band.
func (m *MemberAggregate) Suspend(reason string) error {
	if m.state.Status == "suspended" {
		return apperror.New(apperror.CodeValidation, "member already suspended", nil)
	}
	e, err := m.Raise(EventMemberSuspended, 1, MemberSuspended{Reason: reason})
	if err != nil {
		return err
	}
	m.state.Status = "suspended"
	m.state.Version = e.Version
	return nil
}

// ApplyEvent folds a single event into state. Pure and total over every
// known EventType; unknown types are logged and ignored.
func (m *MemberAggregate) ApplyEvent(e eventstore.DomainEvent) error {
	switch e.EventType {
	case EventMemberRegistered:
		var p MemberRegistered
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		m.state = Member{
			ID: e.AggregateID, Email: p.Email, Name: p.Name, MembershipTier: "basic", Status: "active",
			ExpiresAt: e.Timestamp.AddDate(1, 0, 0), CreatedAt: e.Timestamp, UpdatedAt: e.Timestamp,
		}
	case EventMemberTierChanged:
		var p MemberTierChanged
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		m.state.MembershipTier = p.NewTier
	case EventMemberSuspended:
		m.state.Status = "suspended"
	default:
		log.Printf("membership: ignoring unknown event type %q on aggregate %s", e.EventType, e.AggregateID)
	}
	m.state.Version = e.Version
	m.state.UpdatedAt = e.Timestamp
	return nil
}
