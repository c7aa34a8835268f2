package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewError tests the basic creation of errors.
func TestNewError(t *testing.T) {
	tests := []struct {
		name    string
		code    ErrorCode
		message string
	}{
		{
			name:    "ValidationFailed",
			code:    ValidationFailed,
			message: "validation failed",
		},
		{
			name:    "ResourceNotFound",
			code:    ResourceNotFound,
			message: "resource not found",
		},
		{
			name:    "ReplayStepFailure",
			code:    ReplayStepFailure,
			message: "step 2 validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)

			customErr, ok := err.(*Error)

			assert.True(t, ok, "should be a custom *Error")
			// Test that error was created correctly
			assert.Equal(t, tt.code, customErr.Code())
			assert.Equal(t, tt.message, customErr.Error())

			// Test nil original error for new errors
			assert.Nil(t, customErr.Unwrap())
		})
	}
}

// TestWrapError tests error wrapping functionality.
func TestWrapError(t *testing.T) {
	// Original error to wrap
	originalErr := stderrors.New("original error")

	tests := []struct {
		name       string
		err        error
		code       ErrorCode
		wrapMsg    string
		expectNil  bool
		expectCode ErrorCode
	}{
		{
			name:       "Wrap normal error",
			err:        originalErr,
			code:       ValidationFailed,
			wrapMsg:    "validation context",
			expectNil:  false,
			expectCode: ValidationFailed,
		},
		{
			name:      "Wrap nil error",
			err:       nil,
			code:      ValidationFailed,
			wrapMsg:   "validation context",
			expectNil: true,
		},
		{
			name:       "Wrap custom error",
			err:        New(ResourceNotFound, "not found"),
			code:       ReplayStepFailure,
			wrapMsg:    "replay aborted",
			expectNil:  false,
			expectCode: ReplayStepFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(tt.err, tt.code, tt.wrapMsg)

			if tt.expectNil {
				assert.Nil(t, wrapped)
				return
			}

			assert.NotNil(t, wrapped)

			// Check proper wrapping
			ourErr := wrapped.(*Error)
			assert.Equal(t, tt.expectCode, ourErr.Code())
			assert.Contains(t, ourErr.Error(), tt.wrapMsg)

			// Verify original error is preserved
			unwrapped := ourErr.Unwrap()
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), unwrapped.Error())
			}
		})
	}
}

// TestErrorInterfaces tests compliance with Go error interfaces.
func TestErrorInterfaces(t *testing.T) {
	t.Run("errors.Is support", func(t *testing.T) {
		// Create two errors of same type
		err1 := New(ValidationFailed, "first")
		err2 := New(ValidationFailed, "second")

		// Create error of different type
		err3 := New(ResourceNotFound, "third")

		// Test Is behavior
		assert.True(t, stderrors.Is(err1, err2),
			"Errors with same code should match with Is")
		assert.False(t, stderrors.Is(err1, err3),
			"Errors with different codes should not match with Is")
	})

	t.Run("errors.As support", func(t *testing.T) {
		originalErr := New(ValidationFailed, "original")
		wrappedErr := Wrap(originalErr, ResourceNotFound, "wrapped")

		var customErr *Error
		assert.True(t, stderrors.As(wrappedErr, &customErr),
			"Should be able to extract custom error type")
		assert.Equal(t, ResourceNotFound, customErr.Code())
	})

	t.Run("error unwrapping", func(t *testing.T) {
		baseErr := stderrors.New("base error")
		wrapped := Wrap(baseErr, ValidationFailed, "wrapped error")

		unwrapped := stderrors.Unwrap(wrapped)
		assert.Equal(t, baseErr.Error(), unwrapped.Error())
	})
}

// TestErrorString tests the string representation of errors.
func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string // Strings that should be in error message
	}{
		{
			name:     "Simple error",
			err:      New(ValidationFailed, "validation failed"),
			contains: []string{"validation failed"},
		},
		{
			name: "Wrapped error",
			err: Wrap(
				stderrors.New("original problem"),
				ValidationFailed,
				"validation context",
			),
			contains: []string{
				"validation context",
				"original problem",
			},
		},
		{
			name: "Multiple wraps",
			err: Wrap(
				Wrap(
					stderrors.New("root cause"),
					ResourceNotFound,
					"not found",
				),
				ReplayStepFailure,
				"replay failed",
			),
			contains: []string{
				"replay failed",
				"not found",
				"root cause",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errString := tt.err.Error()
			for _, str := range tt.contains {
				assert.Contains(t, errString, str,
					"Error string should contain expected message")
			}
		})
	}
}

func TestErrorFields(t *testing.T) {
	t.Run("Empty fields", func(t *testing.T) {
		err := New(ValidationFailed, "error")
		customErr := err.(*Error)
		assert.Empty(t, customErr.Fields())
	})

	t.Run("Add fields", func(t *testing.T) {
		fields := Fields{
			"string": "value",
			"int":    42,
			"bool":   true,
		}
		err := WithFields(New(ValidationFailed, "error"), fields)
		customErr := err.(*Error)
		assert.Equal(t, fields, customErr.Fields())
	})

	t.Run("Merge fields", func(t *testing.T) {
		err := WithFields(New(ValidationFailed, "error"), Fields{"a": 1})
		err = WithFields(err, Fields{"b": 2})
		customErr := err.(*Error)
		assert.Len(t, customErr.Fields(), 2)
		assert.Equal(t, 1, customErr.Fields()["a"])
		assert.Equal(t, 2, customErr.Fields()["b"])
	})

	t.Run("WithFields on foreign error", func(t *testing.T) {
		err := WithFields(stderrors.New("plain"), Fields{"k": "v"})
		customErr := err.(*Error)
		assert.Equal(t, Unknown, customErr.Code())
		assert.Equal(t, "v", customErr.Fields()["k"])
	})

	t.Run("WithFields on nil", func(t *testing.T) {
		assert.Nil(t, WithFields(nil, Fields{"k": "v"}))
	})
}

// TestAllErrorCodes tests error codes that might not be covered.
func TestAllErrorCodes(t *testing.T) {
	testCases := []struct {
		code ErrorCode
		name string
	}{
		{Unknown, "Unknown"},
		{InvalidInput, "InvalidInput"},
		{ValidationFailed, "ValidationFailed"},
		{ResourceNotFound, "ResourceNotFound"},
		{Timeout, "Timeout"},
		{Canceled, "Canceled"},
		{LLMGenerationFailed, "LLMGenerationFailed"},
		{ScoringUnavailable, "ScoringUnavailable"},
		{ReplayStepFailure, "ReplayStepFailure"},
		{SecurityDenied, "SecurityDenied"},
		{BudgetExceeded, "BudgetExceeded"},
		{IntegrityViolation, "IntegrityViolation"},
		{OrchestrationFailed, "OrchestrationFailed"},
		{StorageFailed, "StorageFailed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := New(tc.code, "test error")
			customErr, ok := err.(*Error)
			require.True(t, ok)
			assert.Equal(t, tc.code, customErr.Code())
		})
	}
}

func TestCodeExtraction(t *testing.T) {
	t.Run("Code from custom error", func(t *testing.T) {
		err := New(BudgetExceeded, "out of budget")
		assert.Equal(t, BudgetExceeded, Code(err))
	})

	t.Run("Code survives wrapping by fmt", func(t *testing.T) {
		err := Wrap(New(SecurityDenied, "denied"), ReplayStepFailure, "replay failed")
		assert.Equal(t, ReplayStepFailure, Code(err))
	})

	t.Run("Code of plain error is Unknown", func(t *testing.T) {
		assert.Equal(t, Unknown, Code(stderrors.New("plain")))
	})

	t.Run("Code of nil is Unknown", func(t *testing.T) {
		assert.Equal(t, Unknown, Code(nil))
	})

	t.Run("IsCode matches outermost code", func(t *testing.T) {
		err := New(IntegrityViolation, "conflicting steps")
		assert.True(t, IsCode(err, IntegrityViolation))
		assert.False(t, IsCode(err, StorageFailed))
		assert.False(t, IsCode(nil, IntegrityViolation))
	})
}

// TestFieldsMethodEdgeCases tests edge cases in Fields() method.
func TestFieldsMethodEdgeCases(t *testing.T) {
	t.Run("Fields method with nil fields", func(t *testing.T) {
		err := &Error{
			code:    ValidationFailed,
			message: "test",
			fields:  nil,
		}

		fields := err.Fields()
		assert.NotNil(t, fields)
		assert.Empty(t, fields)
	})

	t.Run("Fields method returns copy not reference", func(t *testing.T) {
		originalFields := Fields{"key": "original"}
		err := &Error{
			code:    ValidationFailed,
			message: "test",
			fields:  originalFields,
		}

		returnedFields := err.Fields()
		returnedFields["key"] = "modified"

		// Original should not be modified
		assert.Equal(t, "original", originalFields["key"])
		assert.Equal(t, "original", err.fields["key"])
	})
}

// TestErrorChainIntegration tests complex error chains.
func TestErrorChainIntegration(t *testing.T) {
	t.Run("Deep error chain with fields", func(t *testing.T) {
		baseErr := stderrors.New("tool returned non-zero exit")

		level1 := Wrap(baseErr, ReplayStepFailure, "step 3 failed")
		level1 = WithFields(level1, Fields{"trace_id": "abc-123"})

		level2 := Wrap(level1, ValidationFailed, "validation failed")
		level2 = WithFields(level2, Fields{"check": "nonempty"})

		level3 := Wrap(level2, InvalidInput, "invalid request")
		level3 = WithFields(level3, Fields{"request_id": "req-9"})

		// Test the final error
		finalErr := level3.(*Error)
		assert.Equal(t, InvalidInput, finalErr.Code())
		assert.Contains(t, finalErr.Error(), "invalid request")
		assert.Contains(t, finalErr.Error(), "validation failed")
		assert.Contains(t, finalErr.Error(), "step 3 failed")
		assert.Contains(t, finalErr.Error(), "tool returned non-zero exit")
		assert.Contains(t, finalErr.Error(), "request_id=req-9")

		// Test unwrapping
		unwrapped := finalErr.Unwrap().(*Error)
		assert.Equal(t, ValidationFailed, unwrapped.Code())
		assert.Contains(t, unwrapped.Error(), "check=nonempty")
		assert.Contains(t, unwrapped.Fields()["check"], "nonempty")
	})
}
