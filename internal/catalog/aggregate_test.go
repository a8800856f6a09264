package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/pkg/apperror"
)

func TestCreateUpdateDeleteBook(t *testing.T) {
	agg, err := NewBook("book-4", "isbn-4", "Orig", "Auth", "Pub", 2000, 5, 3)
	require.NoError(t, err)

	title := "Updated"
	require.NoError(t, agg.Update(BookUpdated{Title: &title}))
	require.NoError(t, agg.Delete())

	events := agg.UncommittedEvents()
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, 2, events[1].Version)
	assert.Equal(t, 3, events[2].Version)

	state := agg.State()
	assert.Equal(t, "isbn-4", state.ISBN)
	assert.Equal(t, "Updated", state.Title)
	assert.True(t, state.IsDeleted)
	assert.Equal(t, 3, state.Version)
}

func TestNewBookRejectsMissingFields(t *testing.T) {
	_, err := NewBook("book-x", "", "Title", "Author", "", 0, 5, 1)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestDeleteTwiceIsRejectedNotNoop(t *testing.T) {
	agg, err := NewBook("book-5", "isbn-5", "T", "A", "", 0, 1, 1)
	require.NoError(t, err)
	require.NoError(t, agg.Delete())

	err = agg.Delete()
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeAlreadyDeleted))
}

func TestRehydrateRequiresCreatedFirst(t *testing.T) {
	agg, err := NewBook("book-6", "isbn-6", "T", "A", "", 0, 1, 1)
	require.NoError(t, err)
	title := "Second"
	require.NoError(t, agg.Update(BookUpdated{Title: &title}))

	events := agg.UncommittedEvents()
	rehydrated, err := RehydrateBook(events)
	require.NoError(t, err)
	assert.Equal(t, "Second", rehydrated.State().Title)
	assert.Equal(t, 2, rehydrated.State().Version)

	_, err = RehydrateBook(events[1:])
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestChangeCopiesRejectsAvailableExceedingTotal(t *testing.T) {
	agg, err := NewBook("book-7", "isbn-7", "T", "A", "", 0, 1, 2)
	require.NoError(t, err)

	err = agg.ChangeCopies(2, 5)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}
