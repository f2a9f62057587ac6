package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsCode(t *testing.T) {
	err := New(CodeTokenReplay, "token already used")

	if !IsCode(err, CodeTokenReplay) {
		t.Error("IsCode should match the error's code")
	}
	if IsCode(err, CodeTokenExpired) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(stderrors.New("plain"), CodeTokenReplay) {
		t.Error("IsCode should not match plain errors")
	}

	// Wrapped structured errors still match.
	wrapped := fmt.Errorf("context: %w", err)
	if !IsCode(wrapped, CodeTokenReplay) {
		t.Error("IsCode should see through wrapping")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeRateLimited, "")); got != CodeRateLimited {
		t.Errorf("CodeOf = %s, want %s", got, CodeRateLimited)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("CodeOf plain error = %s, want %s", got, CodeInternal)
	}
}

func TestWrapUnwrap(t *testing.T) {
	inner := stderrors.New("disk full")
	err := Wrap(inner, CodeInternal, "failed to persist token")

	if !stderrors.Is(err, inner) {
		t.Error("wrapped error should unwrap to the inner error")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeTokenReplay, http.StatusUnauthorized},
		{CodeTokenInvalid, http.StatusUnauthorized},
		{CodeSessionExpired, http.StatusUnauthorized},
		{CodeInvalidOrigin, http.StatusForbidden},
		{CodeInvalidCSRF, http.StatusForbidden},
		{CodeDomainMismatch, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyExists, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
		{"something-else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
