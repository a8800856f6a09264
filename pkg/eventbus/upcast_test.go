package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"libranexus/pkg/eventstore"
)

func TestUpcastDefaultsToIdentity(t *testing.T) {
	b := New(FromEnv("upcast-test"))
	evt, err := eventstore.NewEvent("a-1", "BOOK_CREATED", 1, map[string]string{"title": "x"})
	assert.NoError(t, err)

	got := b.upcast(evt)
	assert.Equal(t, evt, got)
}

func TestRegisteredUpcasterRewritesEvent(t *testing.T) {
	b := New(FromEnv("upcast-test"))
	b.RegisterUpcaster("BOOK_CREATED", func(e eventstore.DomainEvent) eventstore.DomainEvent {
		e.SchemaVersion = 2
		return e
	})

	evt, err := eventstore.NewEvent("a-1", "BOOK_CREATED", 1, map[string]string{"title": "x"})
	assert.NoError(t, err)

	got := b.upcast(evt)
	assert.Equal(t, 2, got.SchemaVersion)
}
