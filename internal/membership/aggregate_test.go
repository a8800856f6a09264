package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/pkg/apperror"
)

func TestNewMemberRegistersWithBasicTier(t *testing.T) {
	m, err := NewMember("member-1", "ada@example.com", "Ada Lovelace")
	require.NoError(t, err)

	state := m.State()
	assert.Equal(t, "ada@example.com", state.Email)
	assert.Equal(t, "basic", state.MembershipTier)
	assert.Equal(t, "active", state.Status)
	assert.Equal(t, 1, state.Version)
}

func TestNewMemberRejectsMissingFields(t *testing.T) {
	_, err := NewMember("member-2", "", "No Email")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestChangeTierAndSuspend(t *testing.T) {
	m, err := NewMember("member-3", "grace@example.com", "Grace Hopper")
	require.NoError(t, err)

	require.NoError(t, m.ChangeTier("premium"))
	require.NoError(t, m.Suspend("policy violation"))

	state := m.State()
	assert.Equal(t, "premium", state.MembershipTier)
	assert.Equal(t, "suspended", state.Status)
	assert.Equal(t, 3, state.Version)
}

func TestSuspendTwiceIsRejected(t *testing.T) {
	m, err := NewMember("member-4", "grace@example.com", "Grace Hopper")
	require.NoError(t, err)
	require.NoError(t, m.Suspend("first"))

	err = m.Suspend("second")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestRehydrateMemberReconstructsState(t *testing.T) {
	m, err := NewMember("member-5", "alan@example.com", "Alan Turing")
	require.NoError(t, err)
	require.NoError(t, m.ChangeTier("premium"))

	events := m.UncommittedEvents()
	rehydrated, err := RehydrateMember(events)
	require.NoError(t, err)

	state := rehydrated.State()
	assert.Equal(t, "alan@example.com", state.Email)
	assert.Equal(t, "premium", state.MembershipTier)
	assert.Equal(t, 2, state.Version)
}
