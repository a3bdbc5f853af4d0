package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/plotloom/plotloom/internal/errors"
	"github.com/plotloom/plotloom/internal/models"
	"github.com/plotloom/plotloom/internal/storage"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	return NewTokenService(fs)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1200, EstimateTokens("content.generate"))
	assert.Equal(t, 800, EstimateTokens("narrative.theme"))
	assert.Equal(t, 1500, EstimateTokens("narrative.breakdown"))
	assert.Equal(t, 700, EstimateTokens("narrative.week"))
	assert.Equal(t, DefaultTokenEstimate, EstimateTokens("something.unknown"))
}

func TestGrantAndBalance(t *testing.T) {
	svc := newTestTokenService(t)

	balance, err := svc.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)

	balance, err = svc.Grant("u1", 5000)
	require.NoError(t, err)
	assert.Equal(t, 5000, balance)

	_, err = svc.Grant("u1", -10)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestDeduct_Success(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Grant("u1", 2000)
	require.NoError(t, err)

	tx, err := svc.Deduct("u1", "narrative.theme")
	require.NoError(t, err)

	assert.Equal(t, models.TransactionSuccess, tx.Status)
	assert.Equal(t, 800, tx.Amount)
	assert.Equal(t, 1200, tx.BalanceAfter)
	assert.NotEmpty(t, tx.ID)

	balance, err := svc.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 1200, balance)
}

func TestDeduct_InsufficientLeavesBalanceUntouched(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Grant("u1", 500)
	require.NoError(t, err)

	tx, err := svc.Deduct("u1", "content.generate")
	require.Error(t, err)
	assert.True(t, apperrors.IsBalanceRace(err))

	require.NotNil(t, tx, "a rejected transaction is still recorded")
	assert.Equal(t, models.TransactionRejected, tx.Status)
	assert.Equal(t, 500, tx.BalanceAfter)

	balance, err := svc.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 500, balance, "balance never goes negative")
}

func TestDeduct_RejectionAfterSuccesses(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Grant("u1", 2500)
	require.NoError(t, err)

	// Two content generations succeed, the third is rejected.
	for i := 0; i < 2; i++ {
		tx, err := svc.Deduct("u1", "content.generate")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionSuccess, tx.Status)
	}

	tx, err := svc.Deduct("u1", "content.generate")
	require.Error(t, err)
	assert.Equal(t, models.TransactionRejected, tx.Status)

	balance, err := svc.GetBalance("u1")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)
}

func TestCheckBalance(t *testing.T) {
	svc := newTestTokenService(t)

	err := svc.CheckBalance("u1", "narrative.week")
	require.Error(t, err)
	assert.True(t, apperrors.IsBudgetExceeded(err))

	_, err = svc.Grant("u1", 700)
	require.NoError(t, err)
	assert.NoError(t, svc.CheckBalance("u1", "narrative.week"))
}

func TestTokenAccountsAreIndependent(t *testing.T) {
	svc := newTestTokenService(t)

	_, err := svc.Grant("a", 1000)
	require.NoError(t, err)
	_, err = svc.Grant("b", 300)
	require.NoError(t, err)

	_, err = svc.Deduct("a", "narrative.theme")
	require.NoError(t, err)

	balance, err := svc.GetBalance("b")
	require.NoError(t, err)
	assert.Equal(t, 300, balance)
}
