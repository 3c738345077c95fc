package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeUnknownTool, "tool missing", nil)

	assert.NotNil(t, err)
	assert.Equal(t, ErrCodeUnknownTool, err.Code)
	assert.Equal(t, "tool missing", err.Message)
	assert.Nil(t, err.Cause)
}

func TestNew_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(ErrCodeUpstream, "bad payload", cause)

	assert.Equal(t, ErrCodeUpstream, err.Code)
	assert.Equal(t, cause, err.Cause)
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeUnknownFunction, "no function exists with name %s", "currentTime")

	assert.Equal(t, "no function exists with name currentTime", err.Message)
	assert.Nil(t, err.Cause)
}

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeInvalidSpec, "name is required", nil)

	assert.Equal(t, "INVALID_SPEC: name is required", err.Error())
}

func TestAppError_Error_WithCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(ErrCodeHTTPFailure, "request failed", cause)
	errorString := err.Error()

	assert.Contains(t, errorString, ErrCodeHTTPFailure)
	assert.Contains(t, errorString, "request failed")
	assert.Contains(t, errorString, "connection reset")
}

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrCodeUpstream,
		ErrCodeUnknownTool,
		ErrCodeUnknownFunction,
		ErrCodeEndpointNotFound,
		ErrCodeHTTPFailure,
		ErrCodeInvalidSpec,
		ErrCodeInvalidArguments,
		ErrCodeInvalidInput,
		ErrCodeMaxDepthExceeded,
		ErrCodePackNotFound,
		ErrCodeSessionNotFound,
		ErrCodeStoreFailed,
		ErrCodeConfigInvalid,
		ErrCodeAuthFailed,
	}

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code)
		assert.False(t, seen[code], "duplicate error code: %s", code)
		seen[code] = true
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(ErrCodeUpstream, "failed", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ""},
		{"direct", New(ErrCodeUnknownTool, "x", nil), ErrCodeUnknownTool},
		{"wrapped", fmt.Errorf("turn: %w", New(ErrCodeUpstream, "x", nil)), ErrCodeUpstream},
		{"outermost wins", New(ErrCodeUnknownFunction, "x", New(ErrCodeUnknownTool, "y", nil)), ErrCodeUnknownFunction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	inner := New(ErrCodeUnknownTool, "tool missing", nil)
	outer := New(ErrCodeUnknownFunction, "dispatch failed", inner)

	assert.True(t, Is(outer, ErrCodeUnknownFunction))
	assert.True(t, Is(outer, ErrCodeUnknownTool))
	assert.False(t, Is(outer, ErrCodeUpstream))
	assert.False(t, Is(errors.New("plain"), ErrCodeUpstream))
	assert.False(t, Is(nil, ErrCodeUpstream))
}

func TestAppError_NilCause(t *testing.T) {
	err := New(ErrCodeInvalidInput, "bad input", nil)
	errorString := err.Error()

	assert.NotEmpty(t, errorString)
	assert.NotContains(t, errorString, "nil")
}
