package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryEligibility, CategoryOf(Eligibility("order_not_fillable", "cancelled")))
	assert.Equal(t, CategoryInsufficientRemaining, CategoryOf(InsufficientRemaining("over")))
	assert.Equal(t, CategoryAuthorization, CategoryOf(Reentrant()))
	assert.Equal(t, CategoryInternal, CategoryOf(stderrors.New("plain")))
}

func TestCategoryOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", Arithmetic("rounding_error", "too much dust"))
	assert.Equal(t, CategoryArithmetic, CategoryOf(err))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(Eligibility("below_minimum", "too small")))
	assert.True(t, Recoverable(InsufficientRemaining("over")))
	assert.True(t, Recoverable(Authorization("operator_not_approved", "no opt-in")))
	assert.True(t, Recoverable(Arithmetic("rounding_error", "dust")))

	assert.False(t, Recoverable(Configuration("fee_cap_exceeded", "too high")))
	assert.False(t, Recoverable(Internal("store_failure", stderrors.New("io"))))
	assert.False(t, Recoverable(stderrors.New("plain")))
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Eligibility("quote_failed", "venue down").WithCause(cause)
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "quote_failed")
	assert.Contains(t, err.Error(), "connection reset")
}
