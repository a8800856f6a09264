package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/pkg/apperror"
	"libranexus/pkg/eventstore"
)

type fakeState struct {
	Root
	applied []string
}

func (f *fakeState) ApplyEvent(e eventstore.DomainEvent) error {
	f.applied = append(f.applied, e.EventType)
	return nil
}

func mustEvent(t *testing.T, aggregateID, eventType string, version int) eventstore.DomainEvent {
	t.Helper()
	e, err := eventstore.NewEvent(aggregateID, eventType, 1, map[string]string{})
	require.NoError(t, err)
	e.Version = version
	return e
}

func TestRehydrateFoldsInVersionOrder(t *testing.T) {
	events := []eventstore.DomainEvent{
		mustEvent(t, "a-1", "THING_UPDATED", 2),
		mustEvent(t, "a-1", "THING_CREATED", 1),
		mustEvent(t, "a-1", "THING_DELETED", 3),
	}
	f := &fakeState{}
	require.NoError(t, Rehydrate(&f.Root, f, events))

	assert.Equal(t, []string{"THING_CREATED", "THING_UPDATED", "THING_DELETED"}, f.applied)
	assert.Equal(t, 3, f.Version)
	assert.Equal(t, "a-1", f.ID)
}

func TestRehydrateRejectsNonCreatedFirstEvent(t *testing.T) {
	events := []eventstore.DomainEvent{
		mustEvent(t, "a-1", "THING_RENAMED", 1),
	}
	f := &fakeState{}
	err := Rehydrate(&f.Root, f, events)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInvalidEventStream))
}

func TestRehydrateRejectsStreamNotStartingAtOne(t *testing.T) {
	events := []eventstore.DomainEvent{
		mustEvent(t, "a-1", "THING_CREATED", 2),
	}
	f := &fakeState{}
	err := Rehydrate(&f.Root, f, events)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestRaiseAssignsSequentialVersions(t *testing.T) {
	r := &Root{ID: "a-1"}
	e1, err := r.Raise("THING_CREATED", 1, map[string]string{})
	require.NoError(t, err)
	e2, err := r.Raise("THING_UPDATED", 1, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 1, e1.Version)
	assert.Equal(t, 2, e2.Version)
	assert.Len(t, r.UncommittedEvents(), 2)

	r.Commit()
	assert.Equal(t, 2, r.Version)
	assert.Empty(t, r.UncommittedEvents())
}

func TestRehydrateEmptyEventsIsNoop(t *testing.T) {
	f := &fakeState{}
	require.NoError(t, Rehydrate(&f.Root, f, nil))
	assert.Equal(t, 0, f.Version)
}
