package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestConstructors_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantType   ErrorType
		wantStatus int
	}{
		{"validation", NewValidationError("bad", nil), ErrorTypeValidation, http.StatusBadRequest},
		{"prediction", NewPredictionError("no label", nil), ErrorTypePrediction, http.StatusUnprocessableEntity},
		{"network", NewNetworkError("down", nil), ErrorTypeNetwork, http.StatusBadGateway},
		{"timeout", NewTimeoutError("slow", nil), ErrorTypeTimeout, http.StatusGatewayTimeout},
		{"conflict", NewConflictError("busy", nil), ErrorTypeConflict, http.StatusConflict},
		{"not found", NewNotFoundError("gone", nil), ErrorTypeNotFound, http.StatusNotFound},
		{"expired", NewExpiredError("closed", nil), ErrorTypeExpired, http.StatusGone},
		{"internal", NewInternalError("boom", nil), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, tt.err.Type)
			}
			if GetStatusCode(tt.err) != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, GetStatusCode(tt.err))
			}
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	err := NewNetworkError("request failed", cause)

	if !strings.Contains(err.Error(), "caused by") {
		t.Errorf("Expected cause in message, got %q", err.Error())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("Expected errors.Is to reach the cause")
	}

	plain := NewValidationError("no image", nil)
	if plain.Error() != "validation: no image" {
		t.Errorf("Unexpected message %q", plain.Error())
	}
}

func TestIsType_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", NewPredictionError("face not detected", nil))

	if !IsType(wrapped, ErrorTypePrediction) {
		t.Error("Expected wrapped prediction error to match")
	}
	if IsType(wrapped, ErrorTypeNetwork) {
		t.Error("Did not expect network type to match")
	}
	if IsType(errors.New("plain"), ErrorTypeInternal) {
		t.Error("Did not expect plain error to match")
	}
	if GetStatusCode(errors.New("plain")) != http.StatusInternalServerError {
		t.Error("Expected 500 for plain errors")
	}
}

func TestWithDetails_DoesNotMutateOriginal(t *testing.T) {
	base := NewNetworkError("upload failed", nil)
	detailed := base.WithDetails("status 503")

	if base.Details != "" {
		t.Errorf("Expected original details untouched, got %q", base.Details)
	}
	if detailed.Details != "status 503" {
		t.Errorf("Expected details on copy, got %q", detailed.Details)
	}
}
