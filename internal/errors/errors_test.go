package errors_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
)

func TestFactoryKinds(t *testing.T) {
	f := errors.New()

	tests := []struct {
		code errors.ErrorCode
		want errors.Kind
	}{
		{code: errors.ErrActualExceedsPlanned, want: errors.KindValidation},
		{code: errors.ErrInvalidTransition, want: errors.KindState},
		{code: errors.ErrWorkOrderNotFound, want: errors.KindNotFound},
		{code: errors.ErrGatewayUnavailable, want: errors.KindDependency},
		{code: errors.ErrVersionConflict, want: errors.KindConflict},
		{code: "something_else", want: errors.KindInternal},
	}

	for _, tt := range tests {
		err := f.New(tt.code)
		assert.Equal(t, tt.want, err.Kind(), string(tt.code))
		assert.Equal(t, tt.want, errors.KindOf(err), string(tt.code))
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := errors.New().New(errors.ErrVersionConflict)
	wrapped := fmt.Errorf("saving work order: %w", base)

	assert.True(t, errors.IsConflict(wrapped))
	assert.False(t, errors.IsValidation(wrapped))
	assert.True(t, errors.HasCode(wrapped, errors.ErrVersionConflict))
	assert.False(t, errors.IsConflict(nil))
}

func TestStateTransitionMessage(t *testing.T) {
	err := errors.StateTransition("Completed", "Start")

	require.True(t, errors.IsState(err))
	assert.Contains(t, err.Error(), "current=Completed")
	assert.Contains(t, err.Error(), "attempted=Start")

	data, ok := err.GetData().(errors.StateData)
	require.True(t, ok)
	assert.Equal(t, "Completed", data.Current)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := errors.New().Wrap(errors.ErrGatewayUnavailable, cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.IsDependency(err))
	assert.Equal(t, "Equipment availability gateway unavailable: connection refused", err.Error())
}

func TestWithMessageOverridesDefault(t *testing.T) {
	err := errors.New().WithMessage(errors.ErrNegativeValue, "planned minutes cannot be negative")
	assert.Equal(t, "planned minutes cannot be negative", err.Error())
	assert.Equal(t, errors.ErrNegativeValue, err.Code())
}
