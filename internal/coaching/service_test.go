package coaching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/grow-coach/internal/domain"
	"github.com/ashureev/grow-coach/internal/llm"
	"github.com/ashureev/grow-coach/internal/session"
	"github.com/ashureev/grow-coach/internal/store"
	"github.com/google/go-cmp/cmp"
)

type harness struct {
	svc      *Service
	repo     *store.SQLiteStore
	sessions *session.Manager

	mu       sync.Mutex
	requests []llm.Request
	reply    func(ctx context.Context, req llm.Request) (string, error)
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "coach.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	cache, err := session.NewMemoryCache(16)
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	h := &harness{repo: repo, sessions: session.NewManager(repo, cache)}
	t.Cleanup(h.sessions.Wait)

	h.reply = func(context.Context, llm.Request) (string, error) {
		return "Great job!\n{\"stage\":\"Goal\",\"user_goals\":[\"sleep better\"]}", nil
	}
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		h.mu.Lock()
		h.requests = append(h.requests, req)
		reply := h.reply
		h.mu.Unlock()
		return reply(ctx, req)
	})

	h.svc, err = NewService(h.sessions, repo, gen, cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return h
}

func (h *harness) setReply(fn func(ctx context.Context, req llm.Request) (string, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reply = fn
}

func (h *harness) lastRequest() llm.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[len(h.requests)-1]
}

func (h *harness) stored(t *testing.T, userID, sessionID string) []domain.MessageRecord {
	t.Helper()
	msgs, err := h.repo.ListMessages(context.Background(), userID, sessionID, store.MessageQuery{})
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	return msgs
}

func TestRunTurnScenarioA(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if created.Stage != domain.StageIntro || created.CoachType != domain.CoachBalanced {
		t.Errorf("created = %+v", created)
	}

	res, err := h.svc.RunTurn(ctx, "u1", created.SessionID, "  I want to sleep better  ", "")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if res.Message != "Great job!" || res.Stage != domain.StageGoal {
		t.Errorf("result = %+v", res)
	}
	want := domain.EmptyState(domain.StageGoal)
	want.UserGoals = []string{"sleep better"}
	if diff := cmp.Diff(want, res.State); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	stored := h.stored(t, "u1", created.SessionID)
	if len(stored) != 2 {
		t.Fatalf("stored %d messages, want 2", len(stored))
	}
	if stored[0].Content != "I want to sleep better" || stored[1].CreatedAt != stored[0].CreatedAt+1 {
		t.Errorf("stored pair = %+v", stored)
	}
	sess, _ := h.repo.GetSession(ctx, "u1", created.SessionID)
	if sess == nil || sess.Stage != "goal" {
		t.Errorf("session = %+v", sess)
	}
}

func TestRunTurnScenarioBPersistsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "u1", "direct")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for _, reply := range []string{
		"Sorry, I cannot answer that right now.",
		"{\"stage\":\"goal\"}",
		"Here you go: [1, 2, 3]",
	} {
		h.setReply(func(context.Context, llm.Request) (string, error) { return reply, nil })
		_, err := h.svc.RunTurn(ctx, "u1", created.SessionID, "hello", "")
		if !errors.Is(err, ErrUpstreamMalformed) {
			t.Errorf("reply %q: err = %v, want ErrUpstreamMalformed", reply, err)
		}
	}

	if stored := h.stored(t, "u1", created.SessionID); len(stored) != 0 {
		t.Errorf("stored = %+v, want none", stored)
	}
	e, err := h.sessions.Load(ctx, "u1", created.SessionID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(e.Messages) != 0 || e.Stage != domain.StageIntro {
		t.Errorf("cached entry changed: %+v", e)
	}
}

func TestRunTurnScenarioEConcurrentTurns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.RunTurn(ctx, "u1", created.SessionID, fmt.Sprintf("turn %d", i), "")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("turn %d failed: %v", i, err)
		}
	}

	stored := h.stored(t, "u1", created.SessionID)
	if len(stored) != 4 {
		t.Fatalf("stored %d messages, want 4", len(stored))
	}
	for i := 0; i < 4; i += 2 {
		user, coach := stored[i], stored[i+1]
		if user.Role != "user" || coach.Role != "coach" || coach.CreatedAt != user.CreatedAt+1 {
			t.Errorf("pair %d out of order: %+v %+v", i/2, user, coach)
		}
	}

	hist, err := h.svc.GetHistory(ctx, "u1", created.SessionID, 0, 0)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(hist.Messages) != 4 || hist.HasMore || hist.Cursor != nil {
		t.Errorf("history = %+v", hist)
	}
}

func TestRunTurnRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name, user, session, text string
	}{
		{"no user", "", "s1", "hi"},
		{"no session", "u1", " ", "hi"},
		{"blank text", "u1", "s1", " \n\t "},
		{"too long", "u1", "s1", strings.Repeat("x", MaxUserTextLen+1)},
	}
	for _, tt := range tests {
		if _, err := h.svc.RunTurn(ctx, tt.user, tt.session, tt.text, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tt.name, err)
		}
	}
	if len(h.requests) != 0 {
		t.Errorf("generator called for invalid input")
	}
}

func TestRunTurnUnknownSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	_, err := h.svc.RunTurn(context.Background(), "u1", "missing", "hi", "")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRunTurnGeneratorFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{GenerateTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	h.setReply(func(context.Context, llm.Request) (string, error) { return "", errors.New("quota") })
	if _, err := h.svc.RunTurn(ctx, "u1", created.SessionID, "hi", ""); !errors.Is(err, ErrGenerate) {
		t.Errorf("err = %v, want ErrGenerate", err)
	}

	h.setReply(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err = h.svc.RunTurn(ctx, "u1", created.SessionID, "hi", "")
	if !errors.Is(err, ErrGenerate) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrGenerate wrapping deadline exceeded", err)
	}
	if stored := h.stored(t, "u1", created.SessionID); len(stored) != 0 {
		t.Errorf("stored = %+v, want none", stored)
	}
}

func TestRunTurnSwitchesCoachType(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "u1", "empathetic")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := h.svc.RunTurn(ctx, "u1", created.SessionID, "hi", ""); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if !strings.Contains(h.lastRequest().System, "empathetic") {
		t.Errorf("system prompt does not use the session persona")
	}

	res, err := h.svc.RunTurn(ctx, "u1", created.SessionID, "be blunt", "Direct")
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if res.CoachType != domain.CoachDirect {
		t.Errorf("coach type = %q, want direct", res.CoachType)
	}
	if !strings.Contains(h.lastRequest().System, "direct") {
		t.Errorf("system prompt does not use the requested persona")
	}
	sess, _ := h.repo.GetSession(ctx, "u1", created.SessionID)
	if sess.CoachType != "direct" {
		t.Errorf("persisted coach type = %q", sess.CoachType)
	}
}

func TestRunTurnPromptCarriesHistoryAndSummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{PromptHistoryLimit: 2})
	ctx := context.Background()

	if _, err := h.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`{"basic":{"nickname":"Kei"}}`)); err != nil {
		t.Fatalf("PutFaceSheet failed: %v", err)
	}
	created, err := h.svc.CreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for _, text := range []string{"first", "second"} {
		if _, err := h.svc.RunTurn(ctx, "u1", created.SessionID, text, ""); err != nil {
			t.Fatalf("RunTurn failed: %v", err)
		}
	}

	prompt := strings.Join(h.lastRequest().Fragments, "\n")
	for _, want := range []string{"nickname=Kei", "USER: first", "COACH: Great job!", "USER: second", "Current stage: goal"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Count(prompt, "Great job!") != 1 {
		t.Errorf("history limit not applied:\n%s", prompt)
	}

	// A new face sheet is visible to the next turn.
	if _, err := h.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`{"basic":{"nickname":"Aki"}}`)); err != nil {
		t.Fatalf("PutFaceSheet failed: %v", err)
	}
	if _, err := h.svc.RunTurn(ctx, "u1", created.SessionID, "third", ""); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if prompt := strings.Join(h.lastRequest().Fragments, "\n"); !strings.Contains(prompt, "nickname=Aki") {
		t.Errorf("prompt did not pick up the new face sheet:\n%s", prompt)
	}
	e, _ := h.sessions.Load(ctx, "u1", created.SessionID)
	if !e.HasSummary || !strings.Contains(e.FaceSheetSummary, "Aki") {
		t.Errorf("session summary not cached: %+v", e)
	}
}

func TestGetHistoryPaging(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	created, err := h.svc.CreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := h.svc.RunTurn(ctx, "u1", created.SessionID, fmt.Sprintf("q%d", i), ""); err != nil {
			t.Fatalf("RunTurn failed: %v", err)
		}
	}

	page, err := h.svc.GetHistory(ctx, "u1", created.SessionID, 4, 0)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(page.Messages) != 4 || !page.HasMore || page.Cursor == nil {
		t.Fatalf("page = %+v", page)
	}
	if *page.Cursor != page.Messages[0].CreatedAt || page.Messages[0].Content != "q1" {
		t.Errorf("page starts at %+v, cursor %d", page.Messages[0], *page.Cursor)
	}
	if page.Messages[1].State == nil || page.Messages[1].Stage != domain.StageGoal {
		t.Errorf("coach message lost its state: %+v", page.Messages[1])
	}

	rest, err := h.svc.GetHistory(ctx, "u1", created.SessionID, 4, *page.Cursor)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(rest.Messages) != 2 || rest.HasMore || rest.Messages[0].Content != "q0" {
		t.Errorf("rest = %+v", rest)
	}

	if _, err := h.svc.GetHistory(ctx, "u1", created.SessionID, 10, -1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative cursor err = %v", err)
	}
	if _, err := h.svc.GetHistory(ctx, "u2", created.SessionID, 10, 0); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("foreign session err = %v", err)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want int }{
		{0, DefaultHistoryLimit},
		{-5, 1},
		{1, 1},
		{150, 150},
		{10_000, MaxHistoryLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFaceSheetRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	empty, err := h.svc.GetFaceSheet(ctx, "u1")
	if err != nil {
		t.Fatalf("GetFaceSheet failed: %v", err)
	}
	if empty.FaceSheet != nil || empty.CreatedAt != nil {
		t.Errorf("expected no face sheet, got %+v", empty)
	}

	if _, err := h.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`["not","an","object"]`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("array payload err = %v, want ErrInvalidInput", err)
	}

	put, err := h.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`{"basic":{"ageRange":"30s","gender":"robot"},"safety":{"concerns":["none","medical"]}}`))
	if err != nil {
		t.Fatalf("PutFaceSheet failed: %v", err)
	}
	if put.FaceSheet.Basic.AgeRange != "30s" || put.FaceSheet.Basic.Gender != "unspecified" {
		t.Errorf("basic = %+v", put.FaceSheet.Basic)
	}
	if diff := cmp.Diff([]string{"medical"}, put.FaceSheet.Safety.Concerns); diff != "" {
		t.Errorf("concerns mismatch (-want +got):\n%s", diff)
	}
	if put.CreatedAt == nil || put.UpdatedAt == nil {
		t.Fatalf("timestamps missing: %+v", put)
	}

	got, err := h.svc.GetFaceSheet(ctx, "u1")
	if err != nil {
		t.Fatalf("GetFaceSheet failed: %v", err)
	}
	if diff := cmp.Diff(put, got); diff != "" {
		t.Errorf("face sheet mismatch (-put +get):\n%s", diff)
	}

	again, err := h.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("PutFaceSheet failed: %v", err)
	}
	if *again.CreatedAt != *put.CreatedAt {
		t.Errorf("createdAt changed on update: %d != %d", *again.CreatedAt, *put.CreatedAt)
	}
}

func TestRunTurnPicksUpFaceSheetSavedByAnotherService(t *testing.T) {
	t.Parallel()
	writer := newHarness(t, Config{})
	ctx := context.Background()

	// reader shares the store but has its own session cache and summary cache.
	cache, err := session.NewMemoryCache(16)
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	sessions := session.NewManager(writer.repo, cache)
	t.Cleanup(sessions.Wait)
	var (
		mu     sync.Mutex
		prompt string
	)
	reader, err := NewService(sessions, writer.repo, llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		mu.Lock()
		prompt = strings.Join(req.Fragments, "\n")
		mu.Unlock()
		return "Noted.\n{\"stage\":\"inventory\"}", nil
	}), Config{})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	lastPrompt := func() string {
		mu.Lock()
		defer mu.Unlock()
		return prompt
	}

	if _, err := writer.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`{"basic":{"nickname":"Old"}}`)); err != nil {
		t.Fatalf("PutFaceSheet failed: %v", err)
	}
	created, err := reader.CreateSession(ctx, "u1", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := reader.RunTurn(ctx, "u1", created.SessionID, "hello", ""); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if p := lastPrompt(); !strings.Contains(p, "nickname=Old") {
		t.Fatalf("first prompt missing profile:\n%s", p)
	}

	if _, err := writer.svc.PutFaceSheet(ctx, "u1", json.RawMessage(`{"basic":{"nickname":"New"}}`)); err != nil {
		t.Fatalf("PutFaceSheet failed: %v", err)
	}
	if _, err := reader.RunTurn(ctx, "u1", created.SessionID, "again", ""); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	p := lastPrompt()
	if !strings.Contains(p, "nickname=New") || strings.Contains(p, "nickname=Old") {
		t.Errorf("prompt uses a stale profile:\n%s", p)
	}
}
