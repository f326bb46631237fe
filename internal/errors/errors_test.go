package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	errFactory := errors.New()

	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"coded", errFactory.New(errors.ErrMonitorCrashed), errors.ErrMonitorCrashed},
		{"wrapped by fmt", fmt.Errorf("joining: %w", errFactory.New(errors.ErrTimeout)), errors.ErrTimeout},
		{"outer code wins", errFactory.Wrap(errors.ErrMonitorIteration, errFactory.New(errors.ErrTimeout)), errors.ErrMonitorIteration},
		{"plain error", fmt.Errorf("boom"), errors.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.CodeOf(tt.err))
		})
	}
}

func TestHasCodeWalksChain(t *testing.T) {
	errFactory := errors.New()
	err := errFactory.Wrap(errors.ErrMonitorIteration, errFactory.New(errors.ErrTimeout))

	assert.True(t, errors.HasCode(err, errors.ErrMonitorIteration))
	assert.True(t, errors.HasCode(err, errors.ErrTimeout))
	assert.False(t, errors.HasCode(err, errors.ErrInvalidConfig))
	assert.False(t, errors.HasCode(nil, errors.ErrTimeout))
}

func TestIsMatchesCode(t *testing.T) {
	errFactory := errors.New()
	err := errFactory.WithMessage(errors.ErrAlreadyRunning, "supervisor has already run")

	assert.ErrorIs(t, err, errFactory.New(errors.ErrAlreadyRunning))
	assert.NotErrorIs(t, err, errFactory.New(errors.ErrInvalidConfig))
	assert.Equal(t, "supervisor has already run", err.Error())
}
