package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Authentication("invalid credentials"), http.StatusUnauthorized},
		{Authorization("insufficient permissions"), http.StatusForbidden},
		{TenantState("tenant suspended"), http.StatusForbidden},
		{Conflict("role name already exists"), http.StatusConflict},
		{Validation("name required"), http.StatusBadRequest},
		{Unprocessable("password too short"), http.StatusUnprocessableEntity},
		{NotFound("role not found"), http.StatusNotFound},
		{RateLimited("too many attempts"), http.StatusTooManyRequests},
		{Unexpected(errors.New("boom")), http.StatusInternalServerError},
		{errors.New("untyped"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("refresh: %w", TenantState("tenant is not active"))
	if !Is(err, KindTenantState) {
		t.Fatalf("expected tenant state kind, got %v", KindOf(err))
	}
	if PublicMessage(err) != "tenant is not active" {
		t.Fatalf("unexpected message %q", PublicMessage(err))
	}
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := Unexpected(errors.New("dial tcp 10.0.0.1:5432: connection refused"))
	if got := PublicMessage(err); got != "internal error" {
		t.Fatalf("leaked cause: %q", got)
	}
	if !errors.Is(err, err.Err) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if PublicMessage(errors.New("raw")) != "internal error" {
		t.Fatalf("untyped error leaked")
	}
}
