// Package api provides HTTP handlers for the coaching API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/grow-coach/internal/coaching"
	"github.com/ashureev/grow-coach/internal/session"
)

// DefaultMaxBodySize caps request bodies.
const DefaultMaxBodySize = 1 << 20

var errEmptyBody = errors.New("empty request body")

// Handler provides common handler utilities.
type Handler struct {
	logger      *slog.Logger
	maxBodySize int64
}

// NewHandler creates a new Handler. A nil logger uses slog.Default.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, maxBodySize: DefaultMaxBodySize}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// readBody reads a size-capped request body. An empty body is reported as
// errEmptyBody.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeJSON decodes an optional JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := h.readBody(w, r)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// writeBodyError reports a request body that could not be read or decoded.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	Error(w, http.StatusBadRequest, "invalid request body")
}

// writeServiceError maps a coaching operation failure onto a generic response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, message := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, coaching.ErrInvalidInput):
		status, message = http.StatusBadRequest, "invalid input"
	case errors.Is(err, session.ErrSessionNotFound):
		status, message = http.StatusNotFound, "session not found"
	case errors.Is(err, coaching.ErrGenerate) && errors.Is(err, context.DeadlineExceeded):
		status, message = http.StatusGatewayTimeout, "coach timed out"
	case errors.Is(err, coaching.ErrGenerate):
		status, message = http.StatusBadGateway, "coach unavailable"
	case errors.Is(err, coaching.ErrUpstreamMalformed):
		status, message = http.StatusBadGateway, "coach reply could not be processed"
	case errors.Is(err, session.ErrPersist):
		status, message = http.StatusInternalServerError, "failed to save conversation"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Request failed",
		"op", op, "status", status, "path", r.URL.Path, "error", err)
	Error(w, status, message)
}
