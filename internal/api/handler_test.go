//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/grow-coach/internal/coaching"
	"github.com/ashureev/grow-coach/internal/session"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestWriteServiceError(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil)

	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: empty", coaching.ErrInvalidInput), http.StatusBadRequest},
		{session.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %w", coaching.ErrUpstreamMalformed, coaching.ErrNoJSONPayload), http.StatusBadGateway},
		{fmt.Errorf("%w: quota", coaching.ErrGenerate), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", coaching.ErrGenerate, errors.Join(errors.New("x"), contextDeadline())), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: disk", session.ErrPersist), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.writeServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), "test", tt.err)
		if w.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.status)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] == "" {
			t.Errorf("%v: body = %v (%v)", tt.err, body, err)
		}
	}
}
