// Package aggregate provides the in-memory aggregate-root base shared by
// Book, Reservation, and Wallet: uncommitted-event buffering and
// deterministic rehydration by folding a version-ordered event stream.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

// Applier folds a single event into aggregate state. Implementations must
// be pure and total over every known EventType; an unknown type is logged
// and ignored by the implementation itself, which returns nil for it
// rather than an error.
type Applier interface {
	ApplyEvent(e eventstore.DomainEvent) error
}

// Root is embedded by every aggregate kind (Book, Reservation, Wallet) to
// supply id/version tracking and the uncommitted-event buffer. It carries
// no behavior of its own beyond recording and rehydrating.
type Root struct {
	ID                string
	Version           int
	uncommittedEvents []eventstore.DomainEvent
}

// Raise appends a new event to the uncommitted buffer at the next version.
// It does not mutate aggregate state — the caller's command method updates
// its own state after raising (Commit only advances Version and clears the
// buffer; it applies nothing) so that in-memory state reflects events not
// yet persisted.
func (r *Root) Raise(eventType string, schemaVersion int, payload any) (eventstore.DomainEvent, error) {
	e, err := eventstore.NewEvent(r.ID, eventType, schemaVersion, payload)
	if err != nil {
		return eventstore.DomainEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	e.Version = r.Version + len(r.uncommittedEvents) + 1
	r.uncommittedEvents = append(r.uncommittedEvents, e)
	return e, nil
}

// UncommittedEvents returns the events raised since the last Commit.
func (r *Root) UncommittedEvents() []eventstore.DomainEvent {
	return r.uncommittedEvents
}

// Commit marks all uncommitted events as persisted: version advances to the
// last event's version and the buffer is cleared. Callers invoke this after
// a successful SaveEvents/AppendBatch.
func (r *Root) Commit() {
	if len(r.uncommittedEvents) == 0 {
		return
	}
	r.Version = r.uncommittedEvents[len(r.uncommittedEvents)-1].Version
	r.uncommittedEvents = nil
}

// Rehydrate sorts events by version, requires the first to be a *_CREATED
// event (delegated to applier.ApplyEvent, which must handle the creation
// event itself), and folds the remainder in order. The aggregate's Version
// ends at the last applied event's version.
func Rehydrate(root *Root, applier Applier, events []eventstore.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]eventstore.DomainEvent, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	if sorted[0].Version != 1 {
		return apperror.New(apperror.CodeValidation, "event stream must start at version 1", nil)
	}
	if !strings.HasSuffix(sorted[0].EventType, "_CREATED") {
		return apperror.New(apperror.CodeInvalidEventStream, "first event in stream must be a *_CREATED event, got "+sorted[0].EventType, nil)
	}

	root.ID = sorted[0].AggregateID
	for _, e := range sorted {
		if err := applier.ApplyEvent(e); err != nil {
			return fmt.Errorf("apply %s at version %d: %w", e.EventType, e.Version, err)
		}
		root.Version = e.Version
	}
	return nil
}
