package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brokkr-io/brokkr/internal/apierr"
	"github.com/brokkr-io/brokkr/internal/protocol"
	"go.uber.org/zap"
)

func TestStatusForKind(t *testing.T) {
	cases := []struct {
		kind apierr.Kind
		want int
	}{
		{apierr.Unauthenticated, http.StatusUnauthorized},
		{apierr.Forbidden, http.StatusForbidden},
		{apierr.NotFound, http.StatusNotFound},
		{apierr.Conflict, http.StatusConflict},
		{apierr.Validation, http.StatusBadRequest},
		{apierr.Transient, http.StatusServiceUnavailable},
		{apierr.Fatal, http.StatusInternalServerError},
		{apierr.Kind("unknown"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusForKind(c.kind); got != c.want {
			t.Errorf("statusForKind(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestWriteErrorBodyCarriesKindAndMessage(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, zap.NewNop(), apierr.New(apierr.Conflict, "claim race lost"))

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	var body protocol.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != string(apierr.Conflict) {
		t.Fatalf("expected code %q, got %q", apierr.Conflict, body.Code)
	}
	if body.Message == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestWriteErrorTreatsPlainErrorsAsTransient(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, zap.NewNop(), errors.New("unexpected"))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for untagged error, got %d", w.Code)
	}
}
