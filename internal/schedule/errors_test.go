package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("create: %w", violation(ReasonOverlap, "overlaps event %s", "e-1"))

	assert.ErrorIs(t, err, ErrConstraintViolation)
	assert.ErrorIs(t, err, ErrOverlap)
	assert.NotErrorIs(t, err, ErrPastHorizon)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "create: CONSTRAINT_VIOLATION(OVERLAP): overlaps event e-1", err.Error())

	e, ok := AsError(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonOverlap, e.Reason)

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
}

func TestStoreUnavailableOutcome(t *testing.T) {
	assert.True(t, storeUnavailable("insert", context.DeadlineExceeded, true).OutcomeUnknown)
	assert.False(t, storeUnavailable("find", context.DeadlineExceeded, false).OutcomeUnknown)
	assert.False(t, storeUnavailable("insert", errors.New("conn reset"), true).OutcomeUnknown)
}
