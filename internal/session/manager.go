package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/grow-coach/internal/domain"
	"github.com/ashureev/grow-coach/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSessionNotFound means neither the cache nor the store knows the session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPersist means the durable turn batch failed.
	ErrPersist = errors.New("persist coaching turn")
)

const backfillTimeout = 10 * time.Second

// Reply is the generated half of a coaching turn.
type Reply struct {
	Message   string
	State     domain.CoachingState
	CoachType domain.CoachType
	// Summary, when non-nil, replaces the entry's cached face sheet summary.
	Summary *string
}

// TurnFunc produces the coach reply for userText given the session view.
// The entry passed in is a private copy.
type TurnFunc func(ctx context.Context, e *Entry) (Reply, error)

// TurnResult is the committed outcome of a turn.
type TurnResult struct {
	Entry *Entry
	User  domain.Message
	Coach domain.Message
}

// HistoryPage is one page of a session's persisted messages.
type HistoryPage struct {
	Stage     domain.Stage
	CoachType domain.CoachType
	Messages  []domain.Message
	HasMore   bool
	Cursor    int64
}

// Manager serves session views from the cache and reconstructs them from
// the durable store on a miss.
type Manager struct {
	repo   store.Repository
	cache  Cache
	locks  *lockTable
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	backfills sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides session and message id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// NewManager creates a session manager.
func NewManager(repo store.Repository, cache Cache, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		cache:  cache,
		locks:  newLockTable(),
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session in the intro stage.
func (m *Manager) Create(ctx context.Context, userID string, coachType domain.CoachType) (*Entry, error) {
	if !coachType.Valid() {
		coachType = domain.DefaultCoachType
	}
	now := m.now()
	rec := &domain.SessionRecord{
		UserID:    userID,
		SessionID: m.newID(),
		Stage:     string(domain.StageIntro),
		CoachType: string(coachType),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.MergeSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: create session: %w", ErrPersist, err)
	}

	e := &Entry{
		UserID:    userID,
		SessionID: rec.SessionID,
		Messages:  []domain.Message{},
		Stage:     domain.StageIntro,
		CoachType: coachType,
	}
	m.cacheSet(ctx, e)

	m.logger.Info("Session created", "user_id", userID, "session_id", e.SessionID, "coach_type", coachType)
	return e.Clone(), nil
}

// Load returns the session view, rebuilding it from the store on a miss.
func (m *Manager) Load(ctx context.Context, userID, sessionID string) (*Entry, error) {
	e, ok, err := m.cache.Get(ctx, userID, sessionID)
	if err != nil {
		m.logger.Warn("Session cache read failed, loading from store",
			"user_id", userID, "session_id", sessionID, "error", err)
	}
	if ok && err == nil && !e.owns(userID, sessionID) {
		m.logger.Warn("Cached session belongs to another key, loading from store",
			"user_id", userID, "session_id", sessionID,
			"cached_user_id", e.UserID, "cached_session_id", e.SessionID)
		ok = false
	}
	if ok && err == nil {
		if !e.CoachType.Valid() {
			e.CoachType = domain.DefaultCoachType
			m.cacheSet(ctx, e)
			m.backfillCoachType(ctx, userID, sessionID, e.CoachType)
		}
		return e, nil
	}

	e, err = m.reconstruct(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	m.cacheSet(ctx, e)
	return e.Clone(), nil
}

func (m *Manager) reconstruct(ctx context.Context, userID, sessionID string) (*Entry, error) {
	var (
		rec     *domain.SessionRecord
		records []domain.MessageRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = m.repo.GetSession(gctx, userID, sessionID)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		records, err = m.repo.ListMessages(gctx, userID, sessionID, store.MessageQuery{})
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rec == nil {
		return nil, ErrSessionNotFound
	}

	e := &Entry{
		UserID:    userID,
		SessionID: sessionID,
		Messages:  m.decodeMessages(records),
	}

	e.Stage = domain.NormalizeStage(rec.Stage)
	if e.Stage == domain.StageUndefined {
		e.Stage = lastDeclaredStage(e.Messages)
	}

	coachType, known := domain.ParseCoachType(rec.CoachType)
	e.CoachType = coachType
	if !known {
		m.backfillCoachType(ctx, userID, sessionID, coachType)
	}

	m.logger.Debug("Session reconstructed from store",
		"user_id", userID, "session_id", sessionID,
		"messages", len(e.Messages), "stage", e.Stage)
	return e, nil
}

func (m *Manager) decodeMessages(records []domain.MessageRecord) []domain.Message {
	msgs := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		msg, err := messageFromRecord(rec)
		if err != nil {
			m.logger.Warn("Skipping malformed message record",
				"user_id", rec.UserID, "session_id", rec.SessionID,
				"message_id", rec.MessageID, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func lastDeclaredStage(msgs []domain.Message) domain.Stage {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Stage.Valid() {
			return msgs[i].Stage
		}
	}
	return domain.StageIntro
}

// backfillCoachType persists a normalized coach type without blocking the caller.
func (m *Manager) backfillCoachType(ctx context.Context, userID, sessionID string, coachType domain.CoachType) {
	m.backfills.Add(1)
	go func() {
		defer m.backfills.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backfillTimeout)
		defer cancel()
		err := m.repo.MergeSession(bctx, &domain.SessionRecord{
			UserID:    userID,
			SessionID: sessionID,
			CoachType: string(coachType),
		})
		if err != nil {
			m.logger.Warn("Failed to backfill coach type",
				"user_id", userID, "session_id", sessionID, "error", err)
		}
	}()
}

// Turn runs one coaching turn under the session's single-writer lock:
// load, generate, commit. Nothing is persisted when fn fails.
func (m *Manager) Turn(ctx context.Context, userID, sessionID, userText string, fn TurnFunc) (*TurnResult, error) {
	unlock, err := m.locks.Lock(ctx, Key(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("wait for session lock: %w", err)
	}
	defer unlock()

	e, err := m.Load(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := fn(ctx, e.Clone())
	if err != nil {
		return nil, err
	}
	return m.commit(ctx, e, userText, reply)
}

// commit appends the user and coach messages of one turn to e, updates the
// cache, and writes the pair plus session metadata as one batch. If the
// batch fails the cache entry is dropped so the next Load reads the store.
// The caller holds the session lock.
func (m *Manager) commit(ctx context.Context, e *Entry, userText string, reply Reply) (*TurnResult, error) {
	e = e.Clone()

	userAt := m.now().UnixMilli()
	if last := e.LastCreatedAt(); userAt <= last {
		userAt = last + 1
	}
	coachType := reply.CoachType
	if !coachType.Valid() {
		coachType = e.CoachType
	}
	state := reply.State

	user := domain.Message{
		ID:        m.newID(),
		Role:      domain.RoleUser,
		Content:   userText,
		CreatedAt: userAt,
	}
	coach := domain.Message{
		ID:        m.newID(),
		Role:      domain.RoleCoach,
		Content:   reply.Message,
		CreatedAt: userAt + 1,
		Stage:     state.Stage,
		State:     &state,
		CoachType: coachType,
	}

	e.Messages = append(e.Messages, user, coach)
	if state.Stage.Valid() {
		e.Stage = state.Stage
	}
	e.CoachType = coachType
	if reply.Summary != nil {
		e.FaceSheetSummary = *reply.Summary
		e.HasSummary = true
	}
	m.cacheSet(ctx, e)

	batch := store.TurnBatch{
		Session: domain.SessionRecord{
			UserID:    e.UserID,
			SessionID: e.SessionID,
			Stage:     string(e.Stage),
			CoachType: string(e.CoachType),
			UpdatedAt: m.now(),
		},
	}
	for _, msg := range []domain.Message{user, coach} {
		rec, err := recordFromMessage(e.UserID, e.SessionID, msg)
		if err != nil {
			m.dropCached(ctx, e.UserID, e.SessionID)
			return nil, fmt.Errorf("%w: %w", ErrPersist, err)
		}
		batch.Messages = append(batch.Messages, rec)
	}

	if err := m.repo.CommitTurn(ctx, batch); err != nil {
		m.logger.Error("Failed to persist coaching turn",
			"user_id", e.UserID, "session_id", e.SessionID, "stage", e.Stage, "error", err)
		m.dropCached(ctx, e.UserID, e.SessionID)
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	return &TurnResult{Entry: e.Clone(), User: user, Coach: coach}, nil
}

// History returns up to limit persisted messages older than before (all
// messages when before is 0), oldest first. Stage and coach type come from
// the cached view when present, otherwise from the session record; a miss
// does not populate the cache.
func (m *Manager) History(ctx context.Context, userID, sessionID string, limit int, before int64) (*HistoryPage, error) {
	page, err := m.historyHeader(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	records, err := m.repo.ListMessages(ctx, userID, sessionID, store.MessageQuery{
		Before: before,
		Limit:  limit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	if len(records) > limit {
		page.HasMore = true
		records = records[len(records)-limit:]
	}
	page.Messages = m.decodeMessages(records)
	if page.HasMore && len(records) > 0 {
		page.Cursor = records[0].CreatedAt
	}
	if !page.Stage.Valid() {
		page.Stage = lastDeclaredStage(page.Messages)
	}
	return page, nil
}

func (m *Manager) historyHeader(ctx context.Context, userID, sessionID string) (*HistoryPage, error) {
	if e, ok, err := m.cache.Get(ctx, userID, sessionID); err == nil && ok && e.owns(userID, sessionID) {
		coachType := e.CoachType
		if !coachType.Valid() {
			coachType = domain.DefaultCoachType
		}
		return &HistoryPage{Stage: e.Stage, CoachType: coachType}, nil
	}

	rec, err := m.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rec == nil {
		return nil, ErrSessionNotFound
	}
	coachType, _ := domain.ParseCoachType(rec.CoachType)
	return &HistoryPage{Stage: domain.NormalizeStage(rec.Stage), CoachType: coachType}, nil
}

// Wait blocks until background backfills finish.
func (m *Manager) Wait() {
	m.backfills.Wait()
}

func (m *Manager) cacheSet(ctx context.Context, e *Entry) {
	if err := m.cache.Set(ctx, e); err != nil {
		m.logger.Warn("Session cache write failed",
			"user_id", e.UserID, "session_id", e.SessionID, "error", err)
	}
}

func (m *Manager) dropCached(ctx context.Context, userID, sessionID string) {
	if err := m.cache.Delete(context.WithoutCancel(ctx), userID, sessionID); err != nil {
		m.logger.Warn("Session cache delete failed",
			"user_id", userID, "session_id", sessionID, "error", err)
	}
}
