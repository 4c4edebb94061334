package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	core "github.com/learnfeed/learnfeed-go/pkg/core"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "ErrValidation", err: core.ErrValidation, expected: "validation failed"},
		{name: "ErrNotFound", err: core.ErrNotFound, expected: "content not found"},
		{name: "ErrInsufficientData", err: core.ErrInsufficientData, expected: "insufficient data"},
		{name: "ErrStoreUnavailable", err: core.ErrStoreUnavailable, expected: "state store unavailable"},
		{name: "ErrInvalidConfig", err: core.ErrInvalidConfig, expected: "invalid configuration"},
		{name: "ErrClosed", err: core.ErrClosed, expected: "engine is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestEngineError(t *testing.T) {
	originalErr := errors.New("original error")
	engineErr := core.NewEngineError("GenerateFeed", originalErr)

	assert.Equal(t, "learnfeed: GenerateFeed: original error", engineErr.Error())

	var target *core.EngineError
	if assert.True(t, errors.As(engineErr, &target)) {
		assert.Equal(t, "GenerateFeed", target.Op)
		assert.Equal(t, originalErr, target.Err)
	}
	assert.Equal(t, originalErr, errors.Unwrap(engineErr))
}

func TestNewEngineErrorNil(t *testing.T) {
	assert.NoError(t, core.NewEngineError("GenerateFeed", nil))
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, core.IsValidationError(core.NewEngineError("op", core.ErrValidation)))
	assert.False(t, core.IsValidationError(core.NewEngineError("op", core.ErrStoreUnavailable)))
	assert.False(t, core.IsValidationError(nil))
}
