package control

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sunray-sh/sunray-api/internal/store"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", invalid("bad"), http.StatusBadRequest},
		{"not found", notFound("missing"), http.StatusNotFound},
		{"forbidden", forbidden("no"), http.StatusForbidden},
		{"conflict", conflict("dup"), http.StatusConflict},
		{"unprocessable", unprocessable("too big"), http.StatusUnprocessableEntity},
		{"not implemented", notImplemented("disabled"), http.StatusNotImplemented},
		{"rate limited", tooManyRequests("slow down"), http.StatusTooManyRequests},
		{"upstream", upstream("worker down"), http.StatusBadGateway},
		{"wrapped", fmt.Errorf("handler: %w", notFound("missing")), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorMessageHidesInternalDetail(t *testing.T) {
	if got := ErrorMessage(errors.New("pq: connection refused")); got != "internal server error" {
		t.Errorf("ErrorMessage leaked internal detail: %q", got)
	}
	if got := ErrorMessage(notFound("Session not found")); got != "Session not found" {
		t.Errorf("ErrorMessage = %q, want service message", got)
	}
}

func TestNotFoundOr(t *testing.T) {
	err := notFoundOr(store.ErrNotFound, "User not found")
	if !IsNotFound(err) {
		t.Fatalf("store miss should map to not found, got %v", err)
	}
	if err.Error() != "User not found" {
		t.Errorf("message = %q, want %q", err.Error(), "User not found")
	}

	other := errors.New("tx aborted")
	if got := notFoundOr(other, "User not found"); got != other {
		t.Errorf("non-miss error should pass through, got %v", got)
	}
}
