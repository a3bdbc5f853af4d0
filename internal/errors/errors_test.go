package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypePredicates(t *testing.T) {
	cases := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"validation", NewValidationError("bad input", nil), IsValidationError},
		{"not found", NewNotFoundError("missing", nil), IsNotFoundError},
		{"conflict", NewConflictError("busy", nil), IsConflictError},
		{"generation blocked", NewGenerationBlockedError("prior level not perfect"), IsGenerationBlocked},
		{"budget exceeded", NewBudgetExceededError("too expensive", 100, 800), IsBudgetExceeded},
		{"balance race", NewBalanceRaceError("balance changed"), IsBalanceRace},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.pred(tc.err))
			assert.False(t, tc.pred(stderrors.New("plain")))
		})
	}
}

func TestWrapErrorKeepsProcessingType(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := WrapError(cause, "failed to save plan", ErrorTypeProcessing)

	var appErr *AppError
	require.True(t, stderrors.As(wrapped, &appErr))
	assert.Equal(t, ErrorTypeProcessing, appErr.Type)
	assert.Equal(t, "PROCESSING_ERROR", appErr.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapErrorPreservesAppErrorType(t *testing.T) {
	inner := NewBudgetExceededError("insufficient tokens", 100, 800)
	wrapped := WrapError(inner, "theme generation refused", ErrorTypeProcessing)

	assert.True(t, IsBudgetExceeded(wrapped), "wrapping must not change the original type")

	var appErr *AppError
	require.True(t, stderrors.As(wrapped, &appErr))
	assert.Equal(t, "BUDGET_EXCEEDED", appErr.Code)
}

func TestWrapErrorNil(t *testing.T) {
	assert.NoError(t, WrapError(nil, "ignored", ErrorTypeProcessing))
}

func TestBudgetExceededMessageCarriesNumbers(t *testing.T) {
	err := NewBudgetExceededError("insufficient tokens", 100, 800)
	assert.Equal(t, fmt.Sprintf("insufficient tokens (available %d, estimated %d)", 100, 800), err.Message)
}
