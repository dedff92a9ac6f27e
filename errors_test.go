package docent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientError_WrapsSentinel(t *testing.T) {
	err := &ClientError{Reason: "field a is required", Err: ErrValidation}
	assert.True(t, IsClientError(err))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "field a is required")

	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, IsClientError(wrapped))
	assert.ErrorIs(t, wrapped, ErrValidation)
}

func TestSystemError_HidesCause(t *testing.T) {
	cause := errors.New("password=hunter2 leaked in trace")
	err := &SystemError{Err: cause}
	assert.True(t, IsSystemError(err))
	assert.NotContains(t, err.Error(), "hunter2")
	assert.ErrorIs(t, err, cause)
}

func TestExecutionError_SurfacesMessage(t *testing.T) {
	cause := errors.New("weather API returned 503")
	err := &ExecutionError{Err: cause}
	assert.Contains(t, err.Error(), "weather API returned 503")
	assert.ErrorIs(t, err, cause)
}

func TestServiceError_WrapsStageAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &ServiceError{Stage: "initial", Err: cause}
	assert.Contains(t, err.Error(), "initial")
	assert.ErrorIs(t, err, cause)

	var se *ServiceError
	require.ErrorAs(t, fmt.Errorf("run failed: %w", err), &se)
	assert.Equal(t, "initial", se.Stage)
}

func TestWrapArgumentParseError(t *testing.T) {
	err := wrapArgumentParseError(errors.New("unexpected end of JSON input"))
	assert.True(t, IsClientError(err))
	assert.ErrorIs(t, err, ErrArgumentParse)
}

func TestIsHelpers_PlainErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.False(t, IsClientError(plain))
	assert.False(t, IsSystemError(plain))
}
