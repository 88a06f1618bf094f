package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStore_WrapsAndMatchesKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := Store("get device", cause)

	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected store kind, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("store error must not match validation")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if err.Error() != "get device: connection refused" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestStore_KeepsExistingKind(t *testing.T) {
	err := Store("get device", Config("store url is not configured"))
	if KindOf(err) != KindConfig {
		t.Fatalf("expected config kind, got %v", KindOf(err))
	}
	if Store("noop", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("device_id is required"), http.StatusBadRequest},
		{Auth("invalid ingest secret"), http.StatusUnauthorized},
		{Config("missing credentials"), http.StatusInternalServerError},
		{Store("insert", errors.New("boom")), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", Validation("bad")), http.StatusBadRequest},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
