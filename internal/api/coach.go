package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ashureev/grow-coach/internal/coaching"
	"github.com/ashureev/grow-coach/internal/identity"
	"github.com/ashureev/grow-coach/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// CoachService is the caller-facing coaching contract.
type CoachService interface {
	CreateSession(ctx context.Context, userID, coachType string) (*coaching.CreateSessionResult, error)
	RunTurn(ctx context.Context, userID, sessionID, userText, coachType string) (*coaching.TurnResult, error)
	GetHistory(ctx context.Context, userID, sessionID string, limit int, before int64) (*coaching.HistoryResult, error)
	GetFaceSheet(ctx context.Context, userID string) (*coaching.FaceSheetResult, error)
	PutFaceSheet(ctx context.Context, userID string, payload json.RawMessage) (*coaching.FaceSheetResult, error)
}

// CoachHandler serves coaching sessions and face sheets.
type CoachHandler struct {
	*Handler
	svc     CoachService
	limiter *middleware.RateLimiter
}

// NewCoachHandler creates a coach handler. A nil limiter disables turn throttling.
func NewCoachHandler(base *Handler, svc CoachService, limiter *middleware.RateLimiter) *CoachHandler {
	return &CoachHandler{Handler: base, svc: svc, limiter: limiter}
}

// RegisterRoutes registers coaching routes.
func (h *CoachHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/coach/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/{sessionID}/messages", h.GetHistory)
			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					// Keyed by user only so rotating session ids does not bypass throttling.
					r.Use(middleware.RateLimit(h.limiter, func(r *http.Request) string {
						return identity.UserIDFromContext(r.Context())
					}))
				}
				r.Post("/{sessionID}/turns", h.RunTurn)
			})
		})
		r.Get("/facesheet", h.GetFaceSheet)
		r.Put("/facesheet", h.PutFaceSheet)
	})
}

func (h *CoachHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

type createSessionRequest struct {
	CoachType string `json:"coachType"`
}

// CreateSession starts a coaching session.
func (h *CoachHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := h.svc.CreateSession(r.Context(), userID, req.CoachType)
	if err != nil {
		h.writeServiceError(w, r, "create_session", err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

type turnRequest struct {
	Message   string `json:"message"`
	CoachType string `json:"coachType"`
}

// RunTurn sends one user message to the coach.
func (h *CoachHandler) RunTurn(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req turnRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	res, err := h.svc.RunTurn(r.Context(), userID, sessionID, req.Message, req.CoachType)
	if err != nil {
		h.writeServiceError(w, r, "run_turn", err)
		return
	}
	h.logger.Info("Coaching turn completed",
		"user_id", userID, "session_id", sessionID,
		"stage", res.Stage, "coach_type", res.CoachType,
		"remote_ip", identity.IPFromRequest(r))
	JSON(w, http.StatusOK, res)
}

// GetHistory returns one page of a session's messages.
func (h *CoachHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	before, err := queryInt(q.Get("before"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid before")
		return
	}

	res, err := h.svc.GetHistory(r.Context(), userID, chi.URLParam(r, "sessionID"), int(limit), before)
	if err != nil {
		h.writeServiceError(w, r, "get_history", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

func queryInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// GetFaceSheet returns the caller's face sheet.
func (h *CoachHandler) GetFaceSheet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.GetFaceSheet(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "get_facesheet", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// PutFaceSheet replaces the caller's face sheet with a sanitized copy of the body.
func (h *CoachHandler) PutFaceSheet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	data, err := h.readBody(w, r)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	res, err := h.svc.PutFaceSheet(r.Context(), userID, data)
	if err != nil {
		h.writeServiceError(w, r, "put_facesheet", err)
		return
	}
	JSON(w, http.StatusOK, res)
}
