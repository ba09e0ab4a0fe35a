package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteErrorMapsWrappedKinds(t *testing.T) {
	sessionNotFound := fmt.Errorf("telehealth: session not found: %w", ErrNotFound)

	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retriable bool
	}{
		{"not found", sessionNotFound, http.StatusNotFound, "not_found", false},
		{"double wrapped", fmt.Errorf("get: %w", sessionNotFound), http.StatusNotFound, "not_found", false},
		{"consent", ErrConsentMissing, http.StatusPreconditionFailed, "consent_missing", false},
		{"timeout", fmt.Errorf("summary: %w", ErrProviderTimeout), http.StatusGatewayTimeout, "provider_timeout", true},
		{"bad request", BadRequest("appointment_id is required"), http.StatusBadRequest, "bad_request", false},
		{"unclassified", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "internal", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, nil, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			var got body
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Error.Code != tc.code || got.Error.Retriable != tc.retriable {
				t.Fatalf("unexpected body: %#v", got)
			}
		})
	}
}

func TestWriteErrorNeverEchoesUpstreamText(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, fmt.Errorf("llm: %w: %w", ErrProviderConfig, errors.New("invalid api key sk-abc123")))

	var got body
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Error.Message != ErrProviderConfig.Message {
		t.Fatalf("expected canned message, got %q", got.Error.Message)
	}
}
