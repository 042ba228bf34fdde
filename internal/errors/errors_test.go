package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppError(t *testing.T) {
	t.Run("Error() returns the message", func(t *testing.T) {
		err := &AppError{Message: "Test error"}
		if err.Error() != "Test error" {
			t.Errorf("Error() = %s, want Test error", err.Error())
		}
	})

	t.Run("Unwrap() returns the internal error", func(t *testing.T) {
		internalErr := errors.New("internal failure")
		err := InternalError("Something went wrong").WithInternal(internalErr)

		if !errors.Is(err, internalErr) {
			t.Error("Unwrap() should return internal error")
		}
	})

	t.Run("WithExtra adds extra data", func(t *testing.T) {
		err := BadRequest("Invalid input").WithExtra("field", "email")
		if err.Extra["field"] != "email" {
			t.Errorf("Extra[field] = %v, want email", err.Extra["field"])
		}
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name           string
		constructor    func() *AppError
		expectedStatus int
	}{
		{"BadRequest", func() *AppError { return BadRequest("test") }, http.StatusBadRequest},
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, http.StatusUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, http.StatusForbidden},
		{"NotFound", func() *AppError { return NotFound("not found") }, http.StatusNotFound},
		{"Conflict", func() *AppError { return Conflict("test") }, http.StatusConflict},
		{"InternalError", func() *AppError { return InternalError("test") }, http.StatusInternalServerError},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded(60) }, http.StatusTooManyRequests},
		{"ResourceLocked", func() *AppError { return ResourceLocked("alice") }, http.StatusConflict},
		{"SessionBound", func() *AppError { return SessionBound(map[string]any{"id": "s1"}) }, http.StatusConflict},
		{"ResourceNotOwned", func() *AppError { return ResourceNotOwned(map[string]any{"id": "s1"}) }, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor()
			if err.Status != tt.expectedStatus {
				t.Errorf("%s().Status = %d, want %d", tt.name, err.Status, tt.expectedStatus)
			}
			if err.Message == "" {
				t.Errorf("%s().Message is empty", tt.name)
			}
		})
	}
}

func TestResourceConflictMessages(t *testing.T) {
	t.Run("ResourceLocked carries exact message and locked_by", func(t *testing.T) {
		err := ResourceLocked("alice")
		resp := err.ToResponse()
		if resp["message"] != "Requested resource is already locked by another session" {
			t.Errorf("message = %v", resp["message"])
		}
		if resp["locked_by"] != "alice" {
			t.Errorf("locked_by = %v, want alice", resp["locked_by"])
		}
	})

	t.Run("SessionBound carries exact message and session", func(t *testing.T) {
		err := SessionBound(map[string]any{"id": "s1"})
		resp := err.ToResponse()
		if resp["message"] != "Requesting session is already bound to a resource" {
			t.Errorf("message = %v", resp["message"])
		}
	})

	t.Run("ResourceNotOwned carries exact message", func(t *testing.T) {
		err := ResourceNotOwned(map[string]any{"id": "s1"})
		resp := err.ToResponse()
		if resp["message"] != "Requesting session is not bound to the requested resource" {
			t.Errorf("message = %v", resp["message"])
		}
	})
}

func TestValidationFailed(t *testing.T) {
	err := ValidationFailed("email", "Email is invalid")
	if err.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", err.Status, http.StatusBadRequest)
	}
	if err.Extra["field"] != "email" {
		t.Errorf("Extra[field] = %v, want email", err.Extra["field"])
	}
}

func TestToResponseStripsTrailingPeriod(t *testing.T) {
	resp := Conflict("Something happened.").ToResponse()
	if resp["message"] != "Something happened" {
		t.Errorf("message = %v, want trailing period stripped", resp["message"])
	}
}

func TestErrorTypeChecks(t *testing.T) {
	t.Run("IsConflict", func(t *testing.T) {
		if !IsConflict(ResourceLocked("alice")) {
			t.Error("IsConflict() should return true for ResourceLocked")
		}
		if IsConflict(BadRequest("x")) {
			t.Error("IsConflict() should return false for BadRequest")
		}
		if IsConflict(errors.New("random error")) {
			t.Error("IsConflict() should return false for non-AppError")
		}
	})

	t.Run("IsNotFound", func(t *testing.T) {
		if !IsNotFound(NotFound("missing")) {
			t.Error("IsNotFound() should return true for NotFound")
		}
		if IsNotFound(BadRequest("x")) {
			t.Error("IsNotFound() should return false for other error")
		}
	})
}

func TestWrapError(t *testing.T) {
	originalErr := errors.New("database connection failed")
	wrappedErr := WrapError(originalErr, "Failed to fetch user")

	if wrappedErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", wrappedErr.Status, http.StatusInternalServerError)
	}
	if !errors.Is(wrappedErr, originalErr) {
		t.Error("WrapError() should wrap the original error")
	}
}
