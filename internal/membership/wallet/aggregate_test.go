package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/pkg/apperror"
)

func TestNewWalletOpensWithZeroBalance(t *testing.T) {
	w, err := New("wallet-1", "member-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, w.State().Balance)
	assert.Equal(t, 1, w.State().Version)
}

func TestNewWalletRejectsMissingMember(t *testing.T) {
	_, err := New("wallet-2", "")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestCreditThenDebit(t *testing.T) {
	w, err := New("wallet-3", "member-1")
	require.NoError(t, err)
	require.NoError(t, w.Credit(50, "top-up"))
	require.NoError(t, w.Debit(20, "res-1"))

	assert.Equal(t, 30.0, w.State().Balance)
	assert.Equal(t, 3, w.State().Version)
}

func TestDebitRejectsInsufficientBalance(t *testing.T) {
	w, err := New("wallet-4", "member-1")
	require.NoError(t, err)
	require.NoError(t, w.Credit(10, "top-up"))

	err = w.Debit(25, "res-1")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
	assert.Equal(t, 10.0, w.State().Balance)
}

func TestCreditRejectsNonPositiveAmount(t *testing.T) {
	w, err := New("wallet-5", "member-1")
	require.NoError(t, err)

	err = w.Credit(0, "noop")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestRehydrateWalletReconstructsBalance(t *testing.T) {
	w, err := New("wallet-6", "member-2")
	require.NoError(t, err)
	require.NoError(t, w.Credit(100, "top-up"))
	require.NoError(t, w.Debit(40, "res-9"))

	events := w.UncommittedEvents()
	rehydrated, err := Rehydrate(events)
	require.NoError(t, err)

	state := rehydrated.State()
	assert.Equal(t, "member-2", state.MemberID)
	assert.Equal(t, 60.0, state.Balance)
	assert.Equal(t, 3, state.Version)
}
