package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

var errSentinel = errors.New("already connected to peer")

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("peer_id", "bob").WithContext("count", 42)

	if err.Context["peer_id"] != "bob" {
		t.Errorf("Context[peer_id] = %v, want 'bob'", err.Context["peer_id"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewPolicyError_UnwrapsToSentinel(t *testing.T) {
	err := NewPolicyError(errSentinel, "Already connected to bob")

	if err.Code != ErrCodePolicy {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodePolicy)
	}
	if !errors.Is(err, errSentinel) {
		t.Error("errors.Is should find the sentinel cause")
	}
	if !IsPolicy(err) {
		t.Error("IsPolicy() should return true")
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"setup", NewSetupError(errSentinel, "setup"), ErrCodeSetup},
		{"transport", NewTransportError(errSentinel, "transport"), ErrCodeTransport},
		{"missed call", NewMissedCallError(errSentinel, "missed"), ErrCodeMissedCall},
		{"wrapped policy", fmt.Errorf("connect: %w", NewPolicyError(errSentinel, "policy")), ErrCodePolicy},
		{"plain error", errors.New("boom"), ErrCodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CodeOf(tc.err); got != tc.want {
				t.Errorf("CodeOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("outer: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}
