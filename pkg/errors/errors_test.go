package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

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
	err := NewConflictError("room owned elsewhere")
	err.WithContext("owner_instance", "node-2").WithContext("attempts", 3)

	if err.Context["owner_instance"] != "node-2" {
		t.Errorf("Context[owner_instance] = %v, want 'node-2'", err.Context["owner_instance"])
	}
	if err.Context["attempts"] != 3 {
		t.Errorf("Context[attempts] = %v, want 3", err.Context["attempts"])
	}
}

func TestConstructors_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"not found", NewNotFoundError("room"), ErrCodeNotFound, 404},
		{"unauthorized", NewUnauthorizedError("bad token"), ErrCodeUnauthorized, 401},
		{"conflict", NewConflictError("slot taken"), ErrCodeConflict, 409},
		{"not initialized", NewNotInitializedError("room"), ErrCodeNotInitialized, 503},
		{"exhausted", NewResourceExhaustedError("no idle worker"), ErrCodeResourceExhausted, 503},
		{"timeout", NewTimeoutError("connect"), ErrCodeTimeout, 504},
		{"invalid", NewInvalidInputError("bad id"), ErrCodeInvalidInput, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %v, want %v", tt.err.HTTPStatus, tt.status)
			}
		})
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	err := NewNotFoundError("consumer")
	if err.Message != "consumer not found" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestWrapEngine(t *testing.T) {
	if WrapEngine(nil, "produce") != nil {
		t.Fatal("WrapEngine(nil) should be nil")
	}

	err := WrapEngine(errors.New("ssrc clash"), "produce")
	if CodeOf(err) != ErrCodeEngineFailure {
		t.Errorf("CodeOf() = %v, want %v", CodeOf(err), ErrCodeEngineFailure)
	}

	err = WrapEngine(fmt.Errorf("wait: %w", context.DeadlineExceeded), "connect")
	if CodeOf(err) != ErrCodeTimeout {
		t.Errorf("CodeOf() = %v, want %v", CodeOf(err), ErrCodeTimeout)
	}

	orig := NewNotFoundError("producer")
	if WrapEngine(orig, "consume") != orig {
		t.Error("AppError should pass through untouched")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if !IsAppError(fmt.Errorf("outer: %w", appErr)) {
		t.Error("IsAppError() should see through fmt wrapping")
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

	wrapped := fmt.Errorf("join: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Error("CodeOf(nil) should be empty")
	}
	if CodeOf(errors.New("boom")) != ErrCodeInternal {
		t.Error("foreign errors should map to INTERNAL_ERROR")
	}
	if !HasCode(fmt.Errorf("x: %w", NewNotFoundError("room")), ErrCodeNotFound) {
		t.Error("HasCode() should match wrapped NOT_FOUND")
	}
}
