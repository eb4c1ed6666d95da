package coaching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/grow-coach/internal/domain"
	"github.com/ashureev/grow-coach/internal/facesheet"
	"github.com/ashureev/grow-coach/internal/llm"
	"github.com/ashureev/grow-coach/internal/session"
	"github.com/ashureev/grow-coach/internal/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

// History paging bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MaxUserTextLen caps a single user turn, in runes.
const MaxUserTextLen = 4000

// Defaults applied when Config leaves a field zero.
const (
	DefaultGenerateTimeout    = 90 * time.Second
	DefaultPromptHistoryLimit = 40
	DefaultSummaryCacheSize   = 1000
)

// Config tunes a Service.
type Config struct {
	GenerateTimeout    time.Duration
	PromptHistoryLimit int
	SummaryCacheSize   int
	Logger             *slog.Logger
}

// Service implements the caller-facing coaching operations.
type Service struct {
	sessions  *session.Manager
	repo      store.Repository
	gen       llm.Generator
	summaries *lru.Cache[string, cachedSummary]
	timeout   time.Duration
	history   int
	logger    *slog.Logger
}

// NewService wires a Service.
func NewService(sessions *session.Manager, repo store.Repository, gen llm.Generator, cfg Config) (*Service, error) {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.PromptHistoryLimit <= 0 {
		cfg.PromptHistoryLimit = DefaultPromptHistoryLimit
	}
	if cfg.SummaryCacheSize <= 0 {
		cfg.SummaryCacheSize = DefaultSummaryCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	summaries, err := lru.New[string, cachedSummary](cfg.SummaryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create summary cache: %w", err)
	}
	return &Service{
		sessions:  sessions,
		repo:      repo,
		gen:       gen,
		summaries: summaries,
		timeout:   cfg.GenerateTimeout,
		history:   cfg.PromptHistoryLimit,
		logger:    cfg.Logger,
	}, nil
}

// CreateSessionResult is returned by CreateSession.
type CreateSessionResult struct {
	SessionID string           `json:"sessionId"`
	Stage     domain.Stage     `json:"stage"`
	CoachType domain.CoachType `json:"coachType"`
}

// TurnResult is returned by RunTurn.
type TurnResult struct {
	Stage     domain.Stage         `json:"stage"`
	Message   string               `json:"message"`
	State     domain.CoachingState `json:"state"`
	CoachType domain.CoachType     `json:"coachType"`
}

// HistoryResult is returned by GetHistory.
type HistoryResult struct {
	Stage     domain.Stage     `json:"stage"`
	CoachType domain.CoachType `json:"coachType"`
	Messages  []domain.Message `json:"messages"`
	HasMore   bool             `json:"hasMore"`
	Cursor    *int64           `json:"cursor,omitempty"`
}

// FaceSheetResult is returned by GetFaceSheet and PutFaceSheet.
// Timestamps are Unix milliseconds.
type FaceSheetResult struct {
	FaceSheet *facesheet.FaceSheet `json:"faceSheet"`
	CreatedAt *int64               `json:"createdAt,omitempty"`
	UpdatedAt *int64               `json:"updatedAt,omitempty"`
}

// CreateSession starts a session. An empty or unknown coachType selects the default persona.
func (s *Service) CreateSession(ctx context.Context, userID, coachType string) (*CreateSessionResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	e, err := s.sessions.Create(ctx, userID, domain.NormalizeCoachType(coachType))
	if err != nil {
		return nil, err
	}
	return &CreateSessionResult{SessionID: e.SessionID, Stage: e.Stage, CoachType: e.CoachType}, nil
}

// RunTurn sends userText to the coach and commits the exchange. A non-empty
// coachType switches the session's persona from this turn on.
func (s *Service) RunTurn(ctx context.Context, userID, sessionID, userText, coachType string) (*TurnResult, error) {
	userText = strings.TrimSpace(userText)
	switch {
	case userID == "":
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInput)
	case strings.TrimSpace(sessionID) == "":
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	case userText == "":
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	case utf8.RuneCountInString(userText) > MaxUserTextLen:
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, MaxUserTextLen)
	}

	var requested domain.CoachType
	if strings.TrimSpace(coachType) != "" {
		requested = domain.NormalizeCoachType(coachType)
	}

	res, err := s.sessions.Turn(ctx, userID, sessionID, userText, func(ctx context.Context, e *session.Entry) (session.Reply, error) {
		return s.generate(ctx, e, userText, requested)
	})
	if err != nil {
		return nil, err
	}

	state := *res.Coach.State
	return &TurnResult{
		Stage:     res.Entry.Stage,
		Message:   res.Coach.Content,
		State:     state,
		CoachType: res.Entry.CoachType,
	}, nil
}

func (s *Service) generate(ctx context.Context, e *session.Entry, userText string, requested domain.CoachType) (session.Reply, error) {
	coachType := requested
	if !coachType.Valid() {
		coachType = e.CoachType
	}
	summary := s.faceSheetSummary(ctx, e)
	req := BuildPrompt(coachType, summary, e.Messages, e.Stage, userText, s.history)

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.gen.Generate(gctx, req)
	if err != nil {
		return session.Reply{}, fmt.Errorf("%w: %w", ErrGenerate, err)
	}

	payload, err := ExtractPayload(raw)
	if err != nil {
		s.logger.Warn("Generator reply rejected",
			"user_id", e.UserID, "session_id", e.SessionID, "error", err)
		return session.Reply{}, fmt.Errorf("%w: %w", ErrUpstreamMalformed, err)
	}
	state, err := domain.ParseState(payload.JSON, e.Stage)
	if err != nil {
		s.logger.Warn("Generator state rejected",
			"user_id", e.UserID, "session_id", e.SessionID, "error", err)
		return session.Reply{}, fmt.Errorf("%w: %w", ErrUpstreamMalformed, err)
	}

	reply := session.Reply{Message: payload.Message, State: state, CoachType: coachType}
	if !e.HasSummary || e.FaceSheetSummary != summary {
		reply.Summary = &summary
	}
	return reply, nil
}

// cachedSummary is a rendered summary and the stored face sheet it was
// rendered from.
type cachedSummary struct {
	updatedAt int64
	source    string
	summary   string
}

func (c cachedSummary) matches(rec *domain.FaceSheetRecord) bool {
	if rec == nil {
		return c.updatedAt == 0 && c.source == ""
	}
	return c.updatedAt == rec.UpdatedAt.UnixMilli() && c.source == string(rec.Data)
}

func newCachedSummary(rec *domain.FaceSheetRecord, summary string) cachedSummary {
	if rec == nil {
		return cachedSummary{summary: summary}
	}
	return cachedSummary{updatedAt: rec.UpdatedAt.UnixMilli(), source: string(rec.Data), summary: summary}
}

// faceSheetSummary returns the summary of the user's stored face sheet. The
// store is read on every turn so a face sheet saved by another process is
// picked up; the per-user cache only skips re-rendering an unchanged record.
// When the store cannot be read the last known summary is used.
func (s *Service) faceSheetSummary(ctx context.Context, e *session.Entry) string {
	cached, hit := s.summaries.Get(e.UserID)
	rec, err := s.repo.GetFaceSheet(ctx, e.UserID)
	if err != nil {
		s.logger.Warn("Failed to load face sheet for prompt",
			"user_id", e.UserID, "session_id", e.SessionID, "error", err)
		if hit {
			return cached.summary
		}
		return e.FaceSheetSummary
	}
	if hit && cached.matches(rec) {
		return cached.summary
	}

	var summary string
	if rec != nil {
		summary = facesheet.Summary(facesheet.SanitizeJSON(rec.Data))
	}
	s.summaries.Add(e.UserID, newCachedSummary(rec, summary))
	return summary
}

// GetHistory pages through a session's persisted messages, newest page
// first, each page oldest first. A limit outside [1, MaxHistoryLimit] is
// clamped; zero selects DefaultHistoryLimit. before is an exclusive
// createdAt cursor; zero starts from the newest message.
func (s *Service) GetHistory(ctx context.Context, userID, sessionID string, limit int, before int64) (*HistoryResult, error) {
	if userID == "" || strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if before < 0 {
		return nil, fmt.Errorf("%w: negative cursor", ErrInvalidInput)
	}
	limit = clampLimit(limit)

	page, err := s.sessions.History(ctx, userID, sessionID, limit, before)
	if err != nil {
		return nil, err
	}
	res := &HistoryResult{
		Stage:     page.Stage,
		CoachType: page.CoachType,
		Messages:  page.Messages,
		HasMore:   page.HasMore,
	}
	if page.HasMore {
		cursor := page.Cursor
		res.Cursor = &cursor
	}
	return res, nil
}

func clampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultHistoryLimit
	case limit < 1:
		return 1
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}

// GetFaceSheet returns the user's stored face sheet, sanitized on read.
// FaceSheet is nil when the user has none.
func (s *Service) GetFaceSheet(ctx context.Context, userID string) (*FaceSheetResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	rec, err := s.repo.GetFaceSheet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get face sheet: %w", err)
	}
	if rec == nil {
		return &FaceSheetResult{}, nil
	}
	fs := facesheet.SanitizeJSON(rec.Data)
	if fs == nil {
		s.logger.Warn("Stored face sheet is not an object", "user_id", userID)
		return &FaceSheetResult{}, nil
	}
	return faceSheetResult(fs, rec), nil
}

// PutFaceSheet sanitizes payload and stores it as the user's face sheet.
// Only a payload that is not a JSON object is rejected.
func (s *Service) PutFaceSheet(ctx context.Context, userID string, payload json.RawMessage) (*FaceSheetResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	fs := facesheet.SanitizeJSON(payload)
	if fs == nil {
		return nil, fmt.Errorf("%w: face sheet must be a JSON object", ErrInvalidInput)
	}
	data, err := json.Marshal(fs)
	if err != nil {
		return nil, fmt.Errorf("encode face sheet: %w", err)
	}

	if err := s.repo.MergeFaceSheet(ctx, &domain.FaceSheetRecord{UserID: userID, Data: data}); err != nil {
		return nil, fmt.Errorf("save face sheet: %w", err)
	}

	rec, err := s.repo.GetFaceSheet(ctx, userID)
	if err != nil {
		s.summaries.Remove(userID)
		return nil, fmt.Errorf("reload face sheet: %w", err)
	}
	if rec == nil {
		s.summaries.Remove(userID)
		return nil, errors.New("face sheet missing after save")
	}
	s.summaries.Add(userID, newCachedSummary(rec, facesheet.Summary(fs)))
	s.logger.Info("Face sheet saved", "user_id", userID)
	return faceSheetResult(fs, rec), nil
}

func faceSheetResult(fs *facesheet.FaceSheet, rec *domain.FaceSheetRecord) *FaceSheetResult {
	created := rec.CreatedAt.UnixMilli()
	updated := rec.UpdatedAt.UnixMilli()
	return &FaceSheetResult{FaceSheet: fs, CreatedAt: &created, UpdatedAt: &updated}
}
