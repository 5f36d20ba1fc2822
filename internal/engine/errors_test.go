package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := &Error{Code: ErrCodeInvalidContext, Message: "unknown context", ContextID: "c1"}
	assert.Equal(t, "INVALID_CONTEXT: unknown context (context=c1)", err.Error())

	cause := errors.New("disk")
	err = &Error{Code: ErrCodeHardwareFault, Message: "stop failed", Err: cause}
	assert.Equal(t, "HARDWARE_FAULT: stop failed: disk", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_Predicates(t *testing.T) {
	tests := []struct {
		code ErrorCode
		is   func(error) bool
	}{
		{ErrCodeInvalidContext, IsInvalidContext},
		{ErrCodeInvalidArgument, IsInvalidArgument},
		{ErrCodeBusy, IsBusy},
		{ErrCodeTimeout, IsTimeout},
		{ErrCodeResourceExhausted, IsResourceExhausted},
		{ErrCodeHardwareFault, IsHardwareFault},
		{ErrCodeClosed, IsClosed},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", &Error{Code: tt.code, Message: "x"})
			assert.True(t, tt.is(wrapped))
			assert.Equal(t, tt.code, CodeOf(wrapped))
			assert.False(t, tt.is(errors.New("plain")))
			assert.False(t, tt.is(nil))
		})
	}
}

func TestCodeOf_NonEngineError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}
