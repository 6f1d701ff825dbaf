package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MatchesKindAndCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := externalFailure("Cancel", "payment gateway refund", cause)

	assert.ErrorIs(t, err, ErrExternalServiceFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "Cancel")

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Cancel", e.Op)
}

func TestError_TooEarlyCarriesMinutes(t *testing.T) {
	err := tooEarly("GetSessionCredentials", 42)

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 42, e.MinutesRemaining)
	assert.True(t, errors.Is(err, ErrTooEarly))
	assert.False(t, errors.Is(err, ErrTooLate))
}
